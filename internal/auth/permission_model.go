package auth

// 批次对象类型和关系
const (
	ObjectBatch       = "batch"
	RelationCreator   = "creator"
	RelationApprover  = "approver"
	RelationViewer    = "viewer"
	RelationCommenter = "commenter"
)

// GetPermissionModel 获取 OpenFGA 权限模型定义
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type batch
  relations
    define creator: [user]
    define approver: [user]
    define viewer: [user] or creator or approver
    define commenter: [user] or creator or approver`
}

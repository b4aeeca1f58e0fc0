package websocket

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/batch-approval/internal/auth"
)

var upgrader = gorillaWS.Upgrader{
	// Origin 由 CORS 配置和 token 认证共同约束
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler 批次事件流
// batch_id 可重复或逗号分隔,只订阅这些批次;配置了 validator 时必须通过 token 参数认证
func WebSocketHandler(hub *Hub, validator *auth.KeycloakTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := "anonymous"
		if validator != nil {
			token := c.Query("token")
			if token == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing token"})
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token"})
				return
			}
			userID = claims.Subject
		}

		batchIDs, err := parseBatchIDs(c.QueryArray("batch_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "invalid batch_id", "detail": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已经写入了错误响应
			return
		}

		client := newClient(uuid.New().String(), userID, batchIDs, hub, conn)
		select {
		case hub.register <- client:
		case <-hub.stop:
			conn.Close()
			return
		}

		go client.readPump()
		go client.writePump()
	}
}

func parseBatchIDs(values []string) ([]uint, error) {
	seen := make(map[uint]bool)
	var ids []uint
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				return nil, &strconv.NumError{Func: "parseBatchIDs", Num: raw, Err: strconv.ErrSyntax}
			}
			if !seen[uint(id)] {
				seen[uint(id)] = true
				ids = append(ids, uint(id))
			}
		}
	}
	return ids, nil
}

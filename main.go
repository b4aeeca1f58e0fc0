/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/mautops/batch-approval/cmd"

func main() {
	cmd.Execute()
}

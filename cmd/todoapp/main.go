package main

import "github.com/patrickcsouzadev/todo-app/cmd/todoapp/cmd"

func main() {
	cmd.Execute()
}

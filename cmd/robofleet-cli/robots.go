package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joshp123/robofleet/internal/rpc"
)

func robotsCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	action := "list"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "list":
		list, err := client.Robots(ctx)
		if err != nil {
			fatal("list robots", err)
		}
		if out.json {
			out.printJSON(list)
			return
		}
		rows := [][]string{{"ID", "NAME", "OWNER"}}
		for _, robot := range list.Robots {
			rows = append(rows, []string{robot.ID, robot.Static.Name, robot.Static.Owner})
		}
		out.table(rows)
	case "rename":
		if len(args) < 3 {
			fatal("rename robot", fmt.Errorf("usage: robofleet-cli robots rename <robot> <name>"))
		}
		robotID := resolveRobot(ctx, client, args[1])
		resp, err := client.RenameRobot(ctx, robotID, args[2])
		if err != nil {
			fatal("rename robot", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		fmt.Printf("renamed %s to %s\n", resp.Robot.ID, resp.Robot.Static.Name)
	case "delete":
		if len(args) < 2 {
			fatal("delete robot", fmt.Errorf("usage: robofleet-cli robots delete <robot>"))
		}
		robotID := resolveRobot(ctx, client, args[1])
		if err := client.DeleteRobot(ctx, robotID); err != nil {
			fatal("delete robot", err)
		}
		fmt.Printf("deleted %s\n", robotID)
	default:
		usage()
		os.Exit(2)
	}
}

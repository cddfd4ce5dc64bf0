package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/rpc"
)

func notificationsCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	action := "list"
	if len(args) > 0 {
		action = args[0]
		args = args[1:]
	}

	switch action {
	case "list":
		list, err := client.Notifications(ctx, false, false)
		if err != nil {
			fatal("list notifications", err)
		}
		printNotifications(list, out)
	case "sync":
		flags := pflag.NewFlagSet("sync", pflag.ExitOnError)
		replace := flags.Bool("replace", false, "replace the remote set instead of merging")
		_ = flags.Parse(args)
		list, err := client.Notifications(ctx, true, *replace)
		if err != nil {
			fatal("sync notifications", err)
		}
		printNotifications(list, out)
	case "read":
		if len(args) < 1 {
			fatal("mark read", fmt.Errorf("missing notification id"))
		}
		if err := client.MarkRead(ctx, args[0]); err != nil {
			fatal("mark read", err)
		}
		fmt.Printf("marked %s read\n", args[0])
	case "delete":
		if len(args) < 1 {
			fatal("delete notification", fmt.Errorf("missing notification id"))
		}
		if err := client.DeleteNotification(ctx, args[0]); err != nil {
			fatal("delete notification", err)
		}
		fmt.Printf("deleted %s\n", args[0])
	case "clear":
		resp, err := client.ClearNotifications(ctx)
		if err != nil {
			fatal("clear notifications", err)
		}
		if out.json {
			out.printJSON(resp)
		} else {
			fmt.Printf("removed %d\n", resp.Removed)
			if len(resp.Failed) > 0 {
				fmt.Printf("failed: %s (%s)\n", strings.Join(resp.Failed, ", "), resp.Error)
			}
		}
		if len(resp.Failed) > 0 {
			os.Exit(1)
		}
	case "settings":
		settingsCmd(ctx, client, args, out)
	default:
		usage()
		os.Exit(2)
	}
}

func printNotifications(list *rpc.NotificationList, out outputMode) {
	if out.json {
		out.printJSON(list)
		return
	}
	rows := [][]string{{"ID", "TYPE", "ROBOT", "READ", "TIME", "TITLE"}}
	for _, n := range list.Notifications {
		rows = append(rows, []string{
			n.ID.String(),
			string(n.Type),
			n.RobotID,
			strconv.FormatBool(n.Read),
			n.Timestamp.Local().Format(time.DateTime),
			n.Title,
		})
	}
	out.table(rows)
	fmt.Printf("\n%d unread\n", list.Unread)
}

// settingsCmd prints settings, or applies type=on|off pairs first.
func settingsCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	current, err := client.Settings(ctx)
	if err != nil {
		fatal("get settings", err)
	}

	if len(args) > 0 {
		next := rpc.SettingsMessage{Settings: notify.Settings{Enabled: map[notify.Type]bool{}}}
		for k, v := range current.Settings.Enabled {
			next.Settings.Enabled[k] = v
		}
		for _, arg := range args {
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				fatal("update settings", fmt.Errorf("expected type=on|off, got %q", arg))
			}
			enabled, err := parseToggle(value)
			if err != nil {
				fatal("update settings", err)
			}
			next.Settings.Enabled[notify.Type(normalizeName(name))] = enabled
		}
		current, err = client.UpdateSettings(ctx, &next)
		if err != nil {
			fatal("update settings", err)
		}
	}

	if out.json {
		out.printJSON(current)
		return
	}
	types := make([]string, 0, len(notify.Types()))
	for _, t := range notify.Types() {
		types = append(types, string(t))
	}
	sort.Strings(types)
	rows := [][]string{{"TYPE", "ENABLED"}}
	for _, t := range types {
		rows = append(rows, []string{t, strconv.FormatBool(current.Settings.Allows(notify.Type(t)))})
	}
	out.table(rows)
}

func parseToggle(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "yes", "1", "enabled":
		return true, nil
	case "off", "false", "no", "0", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid toggle %q (use on or off)", raw)
}

func accessCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	action := "list"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "list":
		list, err := client.AccessRequests(ctx)
		if err != nil {
			fatal("list access requests", err)
		}
		if out.json {
			out.printJSON(list)
			return
		}
		rows := [][]string{{"REQUEST", "ROBOT", "REQUESTER", "STATUS", "NOTIFICATION"}}
		for _, p := range list.Requests {
			noteID := "-"
			if p.Notification != nil {
				noteID = p.Notification.ID.String()
			}
			robot := p.Request.RobotName
			if robot == "" {
				robot = p.Request.RobotID
			}
			rows = append(rows, []string{
				strconv.FormatInt(p.Request.ID, 10),
				robot,
				p.Request.RequesterName,
				p.Request.Status,
				noteID,
			})
		}
		out.table(rows)
	case "approve", "deny":
		if len(args) < 2 {
			fatal(action, fmt.Errorf("missing request id"))
		}
		requestID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fatal(action, fmt.Errorf("invalid request id %q", args[1]))
		}
		if err := client.ResolveAccess(ctx, requestID, action == "approve"); err != nil {
			fatal(action, err)
		}
		fmt.Printf("%s request %d\n", pastTense(action), requestID)
	default:
		usage()
		os.Exit(2)
	}
}

func pastTense(action string) string {
	if action == "approve" {
		return "approved"
	}
	return "denied"
}

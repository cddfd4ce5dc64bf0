package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/joshp123/robofleet/internal/rpc"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func (o outputMode) session(state *rpc.SessionState) {
	if o.json {
		o.printJSON(state)
		return
	}
	robot := state.Robot
	rows := [][]string{
		{"user", fmt.Sprintf("%s (%s)", state.User.Name, state.User.ID)},
		{"state", state.State.String()},
	}
	if robot.ID != "" {
		rows = append(rows,
			[]string{"robot", fmt.Sprintf("%s (%s)", robot.Static.Name, robot.ID)},
			[]string{"battery", formatPercent(robot.Realtime.BatteryLevel)},
			[]string{"location", fmt.Sprintf("%.5f, %.5f", robot.Realtime.Location.Latitude, robot.Realtime.Location.Longitude)},
		)
		for _, waste := range robot.Realtime.WasteTypes() {
			rows = append(rows, []string{"storage." + waste, formatPercent(robot.Realtime.Storage[waste])})
		}
		controller := "none"
		if robot.Control.Held() {
			controller = robot.Control.HolderName()
		}
		rows = append(rows,
			[]string{"stream", strconv.FormatBool(robot.Realtime.LiveStream.Active)},
			[]string{"controller", controller},
			[]string{"controlling", strconv.FormatBool(state.Controlling)},
		)
	}
	if state.CommandsInFlight > 0 {
		rows = append(rows, []string{"in_flight", strconv.Itoa(state.CommandsInFlight)})
	}
	if state.LastError != "" {
		rows = append(rows, []string{"last_error", state.LastError})
	}
	o.table(rows)
}

// result prints a control or command outcome and exits non-zero on failure.
func (o outputMode) result(action string, res *rpc.ResultResponse) {
	if o.json {
		o.printJSON(res)
	} else if res.OK {
		fmt.Printf("%s: ok\n", action)
	} else {
		fmt.Printf("%s: %s\n", action, res.Message)
	}
	if res.Stale {
		fmt.Fprintln(os.Stderr, "warning: robot selection changed while the request was in flight")
	}
	if !res.OK {
		os.Exit(1)
	}
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

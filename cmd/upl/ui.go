package main

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printAccent(format string, args ...any) {
	accent.Printf(format+"\n", args...)
}

func printSuccess(format string, args ...any) {
	success.Printf(format+"\n", args...)
}

func printWarn(format string, args ...any) {
	warn.Printf(format+"\n", args...)
}

func printNeutral(format string, args ...any) {
	neutral.Printf(format+"\n", args...)
}

func printKV(payload map[string]any, keys ...string) {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil || v == "" {
			continue
		}
		fmt.Printf("  %-18s %v\n", key+":", v)
	}
}

func renderChain(payload map[string]any) {
	entries, _ := payload["chain"].([]any)
	if len(entries) == 0 {
		printNeutral("No upline: this user is a root.")
		return
	}
	printAccent("Upline chain (parent first)")
	for _, raw := range entries {
		e, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  %3v. %-24v %-12v team=%v\n", e["depth"], e["user_id"], e["role_name"], e["team_size"])
	}
}

func renderTeam(payload map[string]any) {
	members, _ := payload["members"].([]any)
	if len(members) == 0 {
		printNeutral("No direct referrals yet.")
		return
	}
	printAccent("%-24s %-10s %8s %8s  %s", "USER", "CODE", "DIRECT", "TEAM", "ROLE")
	for _, raw := range members {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("%-24v %-10v %8v %8v  %v\n",
			m["user_id"], m["own_code"], m["direct_referrals"], m["team_size"], m["role_name"])
	}
}

func renderThresholds(payload map[string]any) {
	rows, _ := payload["thresholds"].([]any)
	printAccent("%5s %-12s %10s %10s", "LEVEL", "NAME", "MIN DIRECT", "MIN TEAM")
	for _, raw := range rows {
		t, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("%5v %-12v %10v %10v\n", t["level"], t["name"], t["min_direct"], t["min_team"])
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runStop(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	if _, err := sendControlCommand(socketPath, controlRequest{Command: "stop"}); err != nil {
		return err
	}
	fmt.Println("stop signal sent")
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	if _, err := sendControlCommand(socketPath, controlRequest{Command: "pause"}); err != nil {
		return err
	}
	fmt.Println("engine paused")
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	if _, err := sendControlCommand(socketPath, controlRequest{Command: "resume"}); err != nil {
		return err
	}
	fmt.Println("engine resumed")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	resp, err := sendControlCommand(socketPath, controlRequest{Command: "status"})
	if err != nil {
		return err
	}
	s := resp.Status
	if s == nil {
		fmt.Println("no status returned")
		return nil
	}
	fmt.Printf("running:        %v\n", s.Running)
	fmt.Printf("paused:         %v\n", s.Paused)
	fmt.Printf("trading date:   %s\n", s.TradingDate)
	fmt.Printf("open positions: %d\n", s.OpenPositions)
	fmt.Printf("last scan:      %s\n", s.LastScanAt.Format("15:04:05"))
	fmt.Printf("last monitor:   %s\n", s.LastMonitorAt.Format("15:04:05"))
	fmt.Printf("cutoff fired:   %v\n", s.CutoffFired)
	return nil
}

func runClosePosition(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	symbol := args[0]
	if _, err := sendControlCommand(socketPath, controlRequest{Command: "close-position", Symbol: symbol}); err != nil {
		return err
	}
	fmt.Printf("force-close requested for %s\n", symbol)
	return nil
}

func runCloseAll(cmd *cobra.Command, args []string) error {
	socketPath, _ := cmd.Flags().GetString("socket")
	if _, err := sendControlCommand(socketPath, controlRequest{Command: "close-all"}); err != nil {
		return err
	}
	fmt.Println("force-close requested for all managed positions")
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	ressync "github.com/ressync/ressync-go"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(listenCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <rid>",
	Short: "Subscribe to a resource and print its current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		defer client.Disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := client.GetResource(ctx, args[0])
		if err != nil {
			return err
		}
		return printResource(res)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <rid> <method> [params-json]",
	Short: "Call a method on a resource",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		defer client.Disconnect()

		params, err := parseParams(args, 2)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := client.CallModel(ctx, args[0], args[1], params)
		if err != nil {
			return err
		}
		if len(result) > 0 {
			fmt.Println(string(result))
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <rid> <props-json>",
	Short: "Update model properties",
	Long:  "Update model properties from a JSON object.\nA null value deletes its key.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		defer client.Disconnect()

		var props map[string]any
		if err := json.Unmarshal([]byte(args[1]), &props); err != nil {
			return fmt.Errorf("invalid JSON props: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := client.SetModel(ctx, args[0], props)
		return err
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen <rid>",
	Short: "Subscribe to a resource and stream its events",
	Long:  "Subscribe to a resource and print its change, add, remove and\nunsubscribe events until interrupted. Custom events are not printed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		defer client.Disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := client.GetResource(ctx, args[0])
		cancel()
		if err != nil {
			return err
		}
		if err := printResource(res); err != nil {
			return err
		}

		handler := func(event string, data any) {
			switch ev := data.(type) {
			case *ressync.ChangeEvent:
				fmt.Printf("change %v\n", ev.OldValues)
			case *ressync.AddEvent:
				fmt.Printf("add %s at %d\n", ev.Item.RID(), ev.Idx)
			case *ressync.RemoveEvent:
				fmt.Printf("remove %s at %d\n", ev.Item.RID(), ev.Idx)
			case *ressync.UnsubscribeEvent:
				fmt.Println("unsubscribe")
			default:
				fmt.Printf("%s %v\n", event, data)
			}
		}

		switch r := res.(type) {
		case *ressync.Model:
			if err := r.On("change unsubscribe", handler); err != nil {
				return err
			}
			defer r.Off("change unsubscribe", handler)
		case *ressync.Collection:
			if err := r.On("add remove unsubscribe", handler); err != nil {
				return err
			}
			defer r.Off("add remove unsubscribe", handler)
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt)
		<-stop
		return nil
	},
}

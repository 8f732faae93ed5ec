package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage storage nodes on a running csi-controller",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add NAME ENDPOINT",
	Short: "Register a storage node with the running controller",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		body, _ := json.Marshal(map[string]string{"name": args[0], "endpoint": args[1]})
		if err := adminPost(adminAddr, "/nodes", body); err != nil {
			return err
		}
		fmt.Printf("✓ node registered: %s (%s)\n", args[0], args[1])
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Unregister a storage node from the running controller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		body, _ := json.Marshal(map[string]string{"name": args[0]})
		if err := adminPost(adminAddr, "/nodes/remove", body); err != nil {
			return err
		}
		fmt.Printf("✓ node removed: %s\n", args[0])
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List storage nodes known to the running controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		var nodes []nodeInfo
		if err := adminGet(adminAddr, "/nodes", &nodes); err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}
		fmt.Printf("%-20s %s\n", "NAME", "STATUS")
		for _, n := range nodes {
			fmt.Printf("%-20s %s\n", n.Name, n.Status)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{nodeAddCmd, nodeRemoveCmd, nodeListCmd} {
		cmd.Flags().String("admin-addr", "127.0.0.1:8090", "Address of the running controller's admin API")
	}
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeListCmd)
}

var adminHTTPClient = &http.Client{Timeout: 5 * time.Second}

func adminPost(addr, path string, body []byte) error {
	resp, err := adminHTTPClient.Post("http://"+addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach controller at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned %s", resp.Status)
	}
	return nil
}

func adminGet(addr, path string, out interface{}) error {
	resp, err := adminHTTPClient.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("failed to reach controller at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

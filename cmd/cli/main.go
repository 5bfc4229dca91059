package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "offline-cache",
		Short: "Offline cache CLI - Save web content for offline viewing",
		Long:  `A command-line interface for queueing web pages and media for offline caching.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Queue a page for offline caching",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		url := args[0]
		id, _ := cmd.Flags().GetString("id")
		typ, _ := cmd.Flags().GetString("type")
		if id == "" {
			id = url
		}

		payload := map[string]string{
			"id":   id,
			"type": typ,
			"url":  url,
		}

		data, _ := json.Marshal(payload)
		resp, err := http.Post(serverURL+"/api/v1/entries", "application/json", bytes.NewBuffer(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var result map[string]interface{}
		json.Unmarshal(body, &result)
		fmt.Printf("Entry queued successfully!\n")
		fmt.Printf("ID: %s\n", result["id"])
		fmt.Printf("Status: %s\n", result["status"])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all entries",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")

		url := serverURL + "/api/v1/entries"
		if status != "" {
			url += "?status=" + status
		}

		resp, err := http.Get(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var entries []map[string]interface{}
		json.Unmarshal(body, &entries)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n",
				truncate(fmt.Sprintf("%v", e["id"]), 40),
				e["type"],
				e["status"],
				toFloat(e["fraction"])*100,
				e["created_at"])
		}
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		resp, err := http.Get(serverURL + "/api/v1/entries/stats")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var stats map[string]interface{}
		json.Unmarshal(body, &stats)

		fmt.Println("Queue Statistics:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for status, count := range stats {
			fmt.Fprintf(w, "  %s\t%v\n", status, count)
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get entry details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		key := args[0]
		resp, err := http.Get(serverURL + "/api/v1/entries/" + key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var entry map[string]interface{}
		json.Unmarshal(body, &entry)

		fmt.Printf("Entry Details:\n")
		fmt.Printf("  ID:       %s\n", entry["id"])
		fmt.Printf("  Type:     %s\n", entry["type"])
		fmt.Printf("  Status:   %s\n", entry["status"])
		fmt.Printf("  Progress: %.0f%%\n", toFloat(entry["fraction"])*100)
		fmt.Printf("  Created:  %s\n", entry["created_at"])
		if errs, ok := entry["errors"].([]interface{}); ok && len(errs) > 0 {
			fmt.Printf("  Errors:\n")
			for _, e := range errs {
				fmt.Printf("    - %v\n", e)
			}
		}
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause [key]",
	Short: "Pause an entry (or all active entries)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		url := serverURL + "/api/v1/entries/pause"
		if len(args) == 1 {
			url = serverURL + "/api/v1/entries/" + args[0] + "/pause"
		}
		postAction(url, "paused")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [key]",
	Short: "Resume an entry (or all paused entries)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		url := serverURL + "/api/v1/entries/resume"
		if len(args) == 1 {
			url = serverURL + "/api/v1/entries/" + args[0] + "/resume"
		}
		postAction(url, "resumed")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [key]",
	Short: "Cancel an entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postAction(serverURL+"/api/v1/entries/"+args[0]+"/cancel", "cancelled")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete an entry and its cached files",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		req, _ := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/entries/"+args[0], nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}
		fmt.Println("Entry deleted successfully")
	},
}

func postAction(url, verb string) {
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
		os.Exit(1)
	}
	fmt.Printf("Entry %s successfully\n", verb)
}

func init() {
	addCmd.Flags().StringP("id", "i", "", "Stable entry id (defaults to the URL)")
	addCmd.Flags().StringP("type", "t", "page", "Entry content type")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

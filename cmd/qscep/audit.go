package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for reading and verifying the audit log.

Every request build, inspection, receipt check and key access is
appended to the log given by --audit-log. Events are chained with
SHA-256 hashes so edits, deletions and insertions are detected.

Examples:
  qscep audit verify /var/log/qscep/audit.jsonl
  qscep audit tail /var/log/qscep/audit.jsonl -n 20`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

The first event has hash_prev="sha256:genesis"; each later event
chains to the hash of the one before it.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <file>",
	Short: "Show recent audit events",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var (
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output raw JSON lines")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	fmt.Printf("Verifying audit log: %s\n\n", path)

	count, err := audit.VerifyFile(path)
	if err != nil {
		fmt.Printf("VERIFICATION FAILED\n")
		fmt.Printf("  Valid events: %d\n", count)
		fmt.Printf("  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Printf("VERIFICATION PASSED\n")
	fmt.Printf("  Total events: %d\n", count)
	fmt.Printf("  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(lines) == 0 {
		fmt.Println("Audit log is empty")
		return nil
	}

	if auditTailNum > 0 && len(lines) > auditTailNum {
		lines = lines[len(lines)-auditTailNum:]
	}

	for _, line := range lines {
		if auditShowJSON {
			fmt.Println(string(line))
			continue
		}
		var event audit.Event
		if err := json.Unmarshal(line, &event); err != nil {
			fmt.Printf("  [ERROR] %s\n", err)
			continue
		}
		printEvent(&event)
	}
	return nil
}

func printEvent(e *audit.Event) {
	mark := "ok"
	if e.Result == audit.ResultFailure {
		mark = "FAILED"
	}

	fmt.Printf("[%s] %s %s\n", e.Timestamp, e.EventType, mark)
	fmt.Printf("    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	o := e.Object
	if o.Type != "" {
		fmt.Printf("    Object: %s", o.Type)
		if o.TransactionID != "" {
			fmt.Printf(" transaction_id=%s", o.TransactionID)
		}
		if o.Subject != "" {
			fmt.Printf(" subject=%s", o.Subject)
		}
		if o.Serial != "" {
			fmt.Printf(" serial=%s", o.Serial)
		}
		if o.Path != "" {
			fmt.Printf(" path=%s", o.Path)
		}
		fmt.Println()
	}

	d := e.Details
	if d.Digest != "" || d.Cipher != "" || d.Key != "" || d.Reason != "" {
		fmt.Print("    Details:")
		if d.Digest != "" {
			fmt.Printf(" digest=%s", d.Digest)
		}
		if d.Cipher != "" {
			fmt.Printf(" cipher=%s", d.Cipher)
		}
		if d.Key != "" {
			fmt.Printf(" key=%s", d.Key)
		}
		if d.Reason != "" {
			fmt.Printf(" reason=%s", d.Reason)
		}
		fmt.Println()
	}
	fmt.Println()
}

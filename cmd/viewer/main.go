package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"chat-core/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// Standalone read-only inspector for the message store. Safe to run while
// the gateway holds the write lock thanks to BypassLockGuard.
func main() {
	dbPath := flag.String("db", "/tmp/badger", "Path to badger DB")
	// Skips the msgid: secondary index by default
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	header := fmt.Sprintf(" Scanning %s (prefix %q) ", *dbPath, *prefix)
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Target", "Time", "Author", "Lang", "Content", "Flags"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()

			// Ignore secondary indexes explicitly
			if strings.HasPrefix(string(item.Key()), "msgid:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				var disk repositories.DiskMessage
				if err := json.Unmarshal(v, &disk); err != nil {
					// Log and keep scanning instead of aborting the whole run
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				flags := ""
				if disk.Edited {
					flags += "edited "
				}
				if len(disk.Attachments) > 0 {
					flags += fmt.Sprintf("files:%d ", len(disk.Attachments))
				}
				if len(disk.Reactions) > 0 {
					flags += fmt.Sprintf("reactions:%d ", len(disk.Reactions))
				}

				// First 8 chars of the message id keep the key column readable
				displayKey := disk.ID
				if len(displayKey) > 8 {
					displayKey = displayKey[:8]
				}

				table.Append([]string{
					displayKey,
					disk.Target,
					disk.At.Format("15:04:05"),
					disk.Author,
					disk.Lang,
					disk.Content,
					flags,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	return badger.Open(opts)
}

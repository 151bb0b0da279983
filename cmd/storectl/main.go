package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ruteri/principality/cmd/flags"
	"github.com/ruteri/principality/interfaces"
	"github.com/ruteri/principality/storage"
	"github.com/urfave/cli/v2"
)

var errNotFound = errors.New("not found")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "storectl",
		Usage: "inspect and edit a namespace of a configured store",
		Flags: append([]cli.Flag{flags.LogServiceFlagFn("storectl")}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "blob",
				Usage: "manage blobs",
				Subcommands: []*cli.Command{
					{
						Name:      "put",
						Usage:     "store a file (or stdin with -) at a path",
						ArgsUsage: "<path> <file|->",
						Action:    withStore(blobPut),
					},
					{
						Name:      "get",
						Usage:     "write the blob at path to stdout",
						ArgsUsage: "<path>",
						Action:    withStore(blobGet),
					},
					{
						Name:   "ls",
						Usage:  "list blob paths",
						Action: withStore(blobList),
					},
					{
						Name:      "rm",
						Usage:     "delete the blob at path",
						ArgsUsage: "<path>",
						Action:    withStore(blobDelete),
					},
				},
			},
			{
				Name:  "value",
				Usage: "manage structured values",
				Subcommands: []*cli.Command{
					{
						Name:      "set",
						Usage:     "store a JSON value under key",
						ArgsUsage: "<key> <json>",
						Action:    withStore(valueSet),
					},
					{
						Name:      "get",
						Usage:     "print the value under key as JSON",
						ArgsUsage: "<key>",
						Action:    withStore(valueGet),
					},
					{
						Name:      "rm",
						Usage:     "delete the value under key",
						ArgsUsage: "<key>",
						Action:    withStore(valueDelete),
					},
				},
			},
			{
				Name:   "status",
				Usage:  "print the store identity and whether it is reachable",
				Action: withStore(status),
			},
		},
	}
}

type storeAction func(cCtx *cli.Context, store interfaces.Store) error

// withStore opens the configured store before running action.
func withStore(action storeAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		cfg, err := flags.LoadConfig(cCtx)
		if err != nil {
			return err
		}

		factory := storage.NewStoreFactory(cfg.Database, logger)
		store, err := factory.DefaultStore(cCtx.String(flags.NamespaceFlag.Name))
		if err != nil {
			return err
		}
		return action(cCtx, store)
	}
}

func requireArgs(cCtx *cli.Context, n int) error {
	if cCtx.NArg() != n {
		return fmt.Errorf("expected %d argument(s): %s", n, cCtx.Command.ArgsUsage)
	}
	return nil
}

func blobPut(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 2); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if src := cCtx.Args().Get(1); src == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("could not read input: %w", err)
	}
	return store.SaveBlob(cCtx.Context, cCtx.Args().Get(0), data)
}

func blobGet(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 1); err != nil {
		return err
	}
	p := cCtx.Args().Get(0)
	data, found, err := store.LoadBlob(cCtx.Context, p)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("blob %s: %w", p, errNotFound)
	}
	_, err = cCtx.App.Writer.Write(data)
	return err
}

func blobList(cCtx *cli.Context, store interfaces.Store) error {
	paths, err := store.ListBlobs(cCtx.Context)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cCtx.App.Writer, p)
	}
	return nil
}

func blobDelete(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 1); err != nil {
		return err
	}
	return store.DeleteBlob(cCtx.Context, cCtx.Args().Get(0))
}

func valueSet(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 2); err != nil {
		return err
	}
	var value interfaces.Value
	if err := json.Unmarshal([]byte(cCtx.Args().Get(1)), &value); err != nil {
		return fmt.Errorf("value is not valid JSON: %w", err)
	}
	return store.SetValue(cCtx.Context, cCtx.Args().Get(0), value)
}

func valueGet(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 1); err != nil {
		return err
	}
	key := cCtx.Args().Get(0)
	value, found, err := store.GetValue(cCtx.Context, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("value %s: %w", key, errNotFound)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(cCtx.App.Writer, string(out))
	return nil
}

func valueDelete(cCtx *cli.Context, store interfaces.Store) error {
	if err := requireArgs(cCtx, 1); err != nil {
		return err
	}
	return store.DeleteValue(cCtx.Context, cCtx.Args().Get(0))
}

func status(cCtx *cli.Context, store interfaces.Store) error {
	available := "unavailable"
	if store.Available(cCtx.Context) {
		available = "available"
	}
	fmt.Fprintln(cCtx.App.Writer, strings.Join([]string{store.Name(), store.LocationURI(), available}, "\t"))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/crm-bulk-client/internal/server"
	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/batch"
	"github.com/Sternrassler/crm-bulk-client/pkg/criteria"
	"github.com/Sternrassler/crm-bulk-client/pkg/pagination"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP front",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Usage: "listen address (overrides server.address)"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			if v := c.String("address"); v != "" {
				s.cfg.Server.Address = v
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(ctx, s.client, s.cfg.Server, s.cfg.ScanOptions())
			if err := srv.Start(); err != nil {
				return err
			}

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "fetch records by id",
		ArgsUsage: "MODULE ID [ID...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "fields", Usage: "fields to return"},
			&cli.StringFlag{Name: "file", Usage: "file with one id per line, or - for stdin"},
		},
		Action: func(c *cli.Context) error {
			module, ids, err := moduleAndArgs(c)
			if err != nil {
				return err
			}
			if path := c.String("file"); path != "" {
				more, err := readLines(c, path)
				if err != nil {
					return err
				}
				ids = append(ids, more...)
			}
			if len(ids) == 0 {
				return cli.Exit("no ids given", 2)
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			var opts batch.LookupOptions
			if fields := c.StringSlice("fields"); len(fields) > 0 {
				opts.Params = map[string][]string{"fields": {joinComma(fields)}}
			}

			bar := newProgress(c, len(ids), "Looking up "+module)
			res, err := s.client.Lookup(c.Context, module, ids, opts, func(r batch.ChunkResult) {
				_ = bar.Add(len(r.Success) + len(r.Fail))
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}
			return printResult(c, "lookup", res)
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "fetch every record of a module",
		ArgsUsage: "MODULE",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "per-page", Usage: "page size (max 200)"},
			&cli.IntFlag{Name: "lanes", Usage: "pages in flight at once"},
			&cli.TimestampFlag{Name: "since", Layout: time.RFC3339, Usage: "only records modified since (RFC 3339)"},
		},
		Action: func(c *cli.Context) error {
			module, _, err := moduleAndArgs(c)
			if err != nil {
				return err
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := scanOptions(c, s.cfg.ScanOptions())
			bar := newProgress(c, -1, "Scanning "+module)
			res, err := s.client.Scan(c.Context, module, opts, func(p pagination.PageResult) {
				_ = bar.Add(len(p.Records))
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}
			return printResult(c, "scan", res)
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "write records back from a JSON array",
		ArgsUsage: "MODULE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "JSON array of records, or - for stdin"},
		},
		Action: func(c *cli.Context) error {
			module, _, err := moduleAndArgs(c)
			if err != nil {
				return err
			}
			records, err := readRecords(c, c.String("file"))
			if err != nil {
				return err
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			bar := newProgress(c, len(records), "Updating "+module)
			res, err := s.client.Update(c.Context, module, records, func(r batch.ChunkResult) {
				_ = bar.Add(len(r.Success) + len(r.Fail))
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}
			return printResult(c, "update", res)
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search a module by criteria, or once per record with a template",
		ArgsUsage: "MODULE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "criteria", Usage: "criteria expression, e.g. (Email:equals:a@b.c)"},
			&cli.StringFlag{Name: "template", Usage: "criteria template with $field placeholders"},
			&cli.StringFlag{Name: "file", Usage: "JSON array of records for --template, or - for stdin"},
			&cli.IntFlag{Name: "per-page", Usage: "page size (max 200)"},
			&cli.IntFlag{Name: "lanes", Usage: "pages in flight at once per search"},
		},
		Action: func(c *cli.Context) error {
			module, _, err := moduleAndArgs(c)
			if err != nil {
				return err
			}

			expr, template := c.String("criteria"), c.String("template")
			if (expr == "") == (template == "") {
				return cli.Exit("exactly one of --criteria or --template is required", 2)
			}

			var records []api.Record
			if template != "" {
				if records, err = readRecords(c, c.String("file")); err != nil {
					return err
				}
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := scanOptions(c, s.cfg.ScanOptions())
			bar := newProgress(c, -1, "Searching "+module)
			cb := func(p pagination.PageResult) {
				_ = bar.Add(len(p.Records))
			}

			var res api.Result
			if expr != "" {
				res, err = s.client.Search(c.Context, module, expr, opts, cb)
			} else {
				res, err = s.client.SearchEach(c.Context, module, records, template, opts, cb)
			}
			_ = bar.Finish()
			if err != nil {
				return err
			}
			return printResult(c, "search", res)
		},
	}
}

func criteriaCommand() *cli.Command {
	return &cli.Command{
		Name:  "criteria",
		Usage: "compile a criteria template against records without calling the CRM",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template", Required: true, Usage: "criteria template with $field placeholders"},
			&cli.StringFlag{Name: "file", Required: true, Usage: "JSON array of records, or - for stdin"},
		},
		Action: func(c *cli.Context) error {
			records, err := readRecords(c, c.String("file"))
			if err != nil {
				return err
			}

			pool := c.Int(flagPool)
			if pool == 0 {
				pool = 5
			}
			plan, err := criteria.Compiler{PoolSize: pool}.Compile(records, c.String("template"))
			if err != nil {
				return err
			}
			return printPlan(c, plan)
		},
	}
}

func moduleAndArgs(c *cli.Context) (string, []string, error) {
	if c.NArg() == 0 {
		return "", nil, cli.Exit("MODULE is required", 2)
	}
	return c.Args().First(), c.Args().Tail(), nil
}

func scanOptions(c *cli.Context, opts pagination.Options) pagination.Options {
	if v := c.Int("per-page"); v > 0 {
		opts.PerPage = v
	}
	if v := c.Int("lanes"); v > 0 {
		opts.Lanes = v
	}
	if c.IsSet("since") {
		if since := c.Timestamp("since"); since != nil {
			opts.Headers = http.Header{"If-Modified-Since": []string{since.Format(time.RFC3339)}}
		}
	}
	return opts
}

func openInput(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, cli.Exit("--file is required", 2)
	}
	if path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	return os.Open(path)
}

func readRecords(c *cli.Context, path string) ([]api.Record, error) {
	in, err := openInput(c, path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var raw []json.RawMessage
	if err := json.NewDecoder(in).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records from %s: %w", path, err)
	}

	records := make([]api.Record, len(raw))
	for i, r := range raw {
		if records[i], err = api.DecodeRecord(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return records, nil
}

func readLines(c *cli.Context, path string) ([]string, error) {
	in, err := openInput(c, path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	return splitLines(string(data)), nil
}

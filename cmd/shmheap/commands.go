// Copyright 2016 Aleksandr Demakin. All rights reserved.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nxgtw/shmheap/managed"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

var (
	cmdCreate = cli.Command{
		Name:      "create",
		Usage:     "create and initialize a region",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "capacity, c",
				Usage: "region size in bytes",
				Value: 65536,
			},
			cli.StringFlag{
				Name:  "perm",
				Usage: "permissions of the region, octal",
				Value: "0600",
			},
		},
		Action: func(c *cli.Context) error {
			name, err := regionArg(c)
			if err != nil {
				return err
			}
			perm, err := strconv.ParseUint(c.String("perm"), 8, 32)
			if err != nil {
				return errors.Wrap(err, "invalid permissions")
			}
			m, err := managed.Create(name, c.Int("capacity"), managed.WithPerm(os.FileMode(perm)), managed.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer m.Close()
			fmt.Fprintf(c.App.Writer, "created %s (%d bytes, id %s)\n", name, m.Capacity(), m.ID())
			return nil
		},
	}

	cmdInfo = cli.Command{
		Name:      "info",
		Usage:     "print region statistics",
		ArgsUsage: "NAME",
		Action: withManager(func(c *cli.Context, m *managed.Manager) error {
			st, err := m.Stats()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 1, ' ', 0)
			fmt.Fprintf(w, "name:\t%s\n", m.Name())
			fmt.Fprintf(w, "id:\t%s\n", m.ID())
			fmt.Fprintf(w, "capacity:\t%d\n", st.Capacity)
			fmt.Fprintf(w, "heap:\t%d\n", st.HeapSize)
			fmt.Fprintf(w, "used:\t%d bytes in %d blocks\n", st.UsedBytes, st.UsedBlocks)
			fmt.Fprintf(w, "free:\t%d bytes in %d blocks\n", st.FreeBytes, st.FreeBlocks)
			fmt.Fprintf(w, "largest free block:\t%d\n", st.LargestFreeBlock)
			fmt.Fprintf(w, "objects:\t%d\n", st.Objects)
			fmt.Fprintf(w, "allocations:\t%d\n", st.Allocations)
			fmt.Fprintf(w, "deallocations:\t%d\n", st.Deallocations)
			fmt.Fprintf(w, "allocation errors:\t%d\n", st.AllocationErrors)
			return w.Flush()
		}),
	}

	cmdList = cli.Command{
		Name:      "ls",
		Usage:     "list named objects",
		ArgsUsage: "NAME",
		Action: withManager(func(c *cli.Context, m *managed.Manager) error {
			entries, err := m.Entries()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tOFFSET\tLENGTH\tTYPE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Name, e.Offset, e.Length, e.TypeName)
			}
			return w.Flush()
		}),
	}

	cmdCheck = cli.Command{
		Name:      "check",
		Usage:     "verify the heap structure of a region",
		ArgsUsage: "NAME",
		Action: withManager(func(c *cli.Context, m *managed.Manager) error {
			if err := m.Check(); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "ok")
			return nil
		}),
	}

	cmdDump = cli.Command{
		Name:      "dump",
		Usage:     "hex dump of region bytes",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			cli.Int64Flag{
				Name:  "offset, o",
				Usage: "first byte to dump",
			},
			cli.Int64Flag{
				Name:  "length, n",
				Usage: "number of bytes to dump",
				Value: 256,
			},
		},
		Action: withManager(func(c *cli.Context, m *managed.Manager) error {
			off, length := c.Int64("offset"), c.Int64("length")
			if off < 0 || length < 0 {
				return errors.New("offset and length must not be negative")
			}
			dumper := hex.Dumper(c.App.Writer)
			defer dumper.Close()
			_, err := io.Copy(dumper, io.NewSectionReader(m.Region().Reader(), off, length))
			return err
		}),
	}

	cmdRemove = cli.Command{
		Name:      "remove",
		Usage:     "remove a region name",
		ArgsUsage: "NAME",
		Action: func(c *cli.Context) error {
			name, err := regionArg(c)
			if err != nil {
				return err
			}
			if err := managed.Remove(name); err != nil {
				return err
			}
			slog.Info("region removed", "region", name)
			return nil
		},
	}

	cmdMetrics = cli.Command{
		Name:      "metrics",
		Usage:     "serve region statistics for prometheus",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "listen, l",
				Usage: "address to listen on",
				Value: ":9464",
			},
		},
		Action: withManager(func(c *cli.Context, m *managed.Manager) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			handler, err := metricsHandler(m)
			if err != nil {
				return err
			}
			return serveMetrics(ctx, c.String("listen"), handler)
		}),
	}
)

func regionArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("%s: region name expected", c.Command.Name)
	}
	return c.Args().First(), nil
}

func withManager(fun func(c *cli.Context, m *managed.Manager) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		name, err := regionArg(c)
		if err != nil {
			return err
		}
		m, err := managed.Open(name, managed.WithLogger(slog.Default()), managed.WithLockTimeout(5*time.Second))
		if err != nil {
			return err
		}
		defer m.Close()
		return fun(c, m)
	}
}

func metricsHandler(m *managed.Manager) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(managed.NewCollector(m)); err != nil {
		return nil, errors.Wrap(err, "failed to register region collector")
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errors.Wrap(err, "failed to register process collector")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux, nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("serving metrics", "addr", addr)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "metrics server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

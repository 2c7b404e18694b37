package main

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/jingo-vpn/tiercache/cache"
	"github.com/jingo-vpn/tiercache/config"
	"github.com/jingo-vpn/tiercache/tui"
	"github.com/spf13/cobra"
)

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage, hit and eviction counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				tui.Table([]string{"Metric", "Value"}, statsRows(m.Stats()))
				return nil
			})
		},
	}
}

func statsRows(s cache.Stats) [][]string {
	limit := func(n int64) string {
		if n <= 0 {
			return "unlimited"
		}
		return humanize.IBytes(uint64(n))
	}
	return [][]string{
		{"Directory", s.Directory},
		{"Entries", humanize.Comma(int64(s.Entries))},
		{"In memory", humanize.Comma(int64(s.MemoryEntries))},
		{"On disk", humanize.Comma(int64(s.DiskEntries))},
		{"Expired", humanize.Comma(int64(s.ExpiredEntries))},
		{"Memory used", humanize.IBytes(uint64(s.MemoryBytesUsed)) + " / " + limit(s.MaxMemoryBytes)},
		{"Disk used", humanize.IBytes(uint64(s.DiskBytesUsed)) + " / " + limit(s.MaxDiskBytes)},
		{"Free on device", humanize.IBytes(s.FilesystemFreeBytes)},
		{"Disk writes paused", strconv.FormatBool(s.DiskTripped)},
	}
}

func keysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List unexpired keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				entries := m.Entries()
				if len(entries) == 0 {
					tui.ShowWarning("no entries in %s", m.Directory())
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						tui.MaxWidth(e.Key, 48),
						humanize.IBytes(uint64(e.Size)),
						expiresIn(e.Expiry),
						tier(e),
						humanize.Comma(e.HitCount),
					})
				}
				tui.Table([]string{"Key", "Size", "Expires", "Tier", "Hits"}, rows)
				return nil
			})
		},
	}
}

func expiresIn(expiry time.Time) string {
	if expiry.IsZero() {
		return "never"
	}
	return humanize.Time(expiry)
}

func tier(e cache.Entry) string {
	switch {
	case e.InMemory && e.OnDisk:
		return "memory+disk"
	case e.InMemory:
		return "memory"
	default:
		return "disk"
	}
}

func getCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				data, ok := m.GetBytes(key)
				if !ok {
					return errors.Newf("key %q not found", key)
				}
				if raw {
					fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(data))
					return nil
				}
				var v any
				if err := (cache.MsgpackCodec{}).Unmarshal(data, &v); err != nil {
					return errors.Wrapf(err, "decode %q, retry with --raw", key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), format(v))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the encoded bytes as base64")
	return cmd
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func setCmd(a *app) *cobra.Command {
	var ttl string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a string value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d config.Duration
			if err := d.UnmarshalText([]byte(ttl)); err != nil {
				return errors.Wrap(err, "--ttl")
			}
			key, value := args[0], args[1]
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				m.Set(key, value, d.Duration)
				if !m.Has(key) {
					return errors.Newf("%q was not stored, the value exceeds both cache tiers", key)
				}
				tui.ShowSuccess("stored %s", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "", "time to live, e.g. 30s, 5m, 1d (default: never expires)")
	return cmd
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a key from both tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				if !m.Has(key) {
					tui.ShowWarning("%s not found", key)
					return nil
				}
				m.Remove(key)
				tui.ShowSuccess("removed %s", key)
				return nil
			})
		},
	}
}

func cleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries and flush the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				before := m.Count()
				tui.ShowSpinner(cmd.Context(), "Removing expired entries...", m.Cleanup)
				tui.ShowSuccess("removed %d expired entries", before-m.Count())
				return nil
			})
		},
	}
}

func clearCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry and record file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *cache.Manager) error {
				if !force {
					if !tui.HasTTY {
						return errors.New("refusing to clear without --force when not attached to a terminal")
					}
					ok, err := tui.Ask(fmt.Sprintf("Delete all %d entries in %s?", m.Count(), m.Directory()), false)
					if err != nil {
						return err
					}
					if !ok {
						tui.ShowWarning("cancelled")
						return nil
					}
				}
				n := m.Count()
				m.Clear()
				tui.ShowSuccess("cleared %d entries from %s", n, tui.Directory(m.Directory()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cfg.Write(cmd.OutOrStdout())
		},
	}
}

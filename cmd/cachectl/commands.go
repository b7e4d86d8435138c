package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/cachemgr"
	"github.com/unkn0wn-root/cachemgr/adapter"
)

var errMissing = errors.New("key not found")

func (a *app) getCmd() *cobra.Command {
	var hash string
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the JSON value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			e, err := a.m.GetEntry(ctx, args[0], cachemgr.WithHash(hash))
			if err != nil {
				return err
			}
			if e == nil {
				return errMissing
			}
			return printJSON(cmd, e)
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "legacy hash field")
	return cmd
}

func (a *app) setCmd() *cobra.Command {
	var (
		ttl  time.Duration
		tags []string
		hash string
		str  bool
	)
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE (JSON, or a plain string with --string)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = json.RawMessage(args[1])
			if str {
				v = args[1]
			} else if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("value is not valid JSON; pass --string to store it as text")
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			opts := []cachemgr.CallOption{cachemgr.WithTTL(ttl), cachemgr.WithHash(hash)}
			if len(tags) > 0 {
				opts = append(opts, cachemgr.WithTags(tags...))
			}
			ok, err := a.m.Set(ctx, args[0], v, opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"stored": ok})
		},
	}
	f := cmd.Flags()
	f.DurationVar(&ttl, "ttl", 0, "lifetime; 0 uses the configured default, -1ns stores without expiry")
	f.StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	f.StringVar(&hash, "hash", "", "legacy hash field")
	f.BoolVar(&str, "string", false, "store VALUE as a JSON string")
	return cmd
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del KEY...",
		Short: "Delete keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			n, err := a.m.MDel(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"deleted": n})
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "keys [PATTERN]",
		Short: "List keys of the namespace, or of tags with --tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			var (
				out []string
				err error
			)
			if len(tags) > 0 {
				out, err = a.m.KeysByTags(ctx, tags...)
			} else {
				pattern := "*"
				if len(args) == 1 {
					pattern = args[0]
				}
				out, err = a.m.Keys(ctx, pattern)
			}
			if err != nil {
				return err
			}
			if out == nil {
				out = []string{}
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "list members of these tags")
	return cmd
}

func (a *app) ttlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ttl KEY",
		Short: "Print the remaining lifetime of KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			d, err := a.m.TTL(ctx, args[0])
			if err != nil {
				return err
			}
			switch d {
			case adapter.TTLMissing:
				return errMissing
			case adapter.TTLPersistent:
				return printJSON(cmd, map[string]string{"ttl": "none"})
			}
			return printJSON(cmd, map[string]string{"ttl": d.String()})
		},
	}
}

func (a *app) expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire KEY DURATION",
		Short: "Set a new lifetime on KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			ok, err := a.m.Expire(ctx, args[0], d)
			if err != nil {
				return err
			}
			if !ok {
				return errMissing
			}
			return printJSON(cmd, map[string]bool{"updated": ok})
		},
	}
}

func (a *app) incrCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "incr KEY [DELTA]",
		Short: "Add DELTA (default 1, may be negative) to a counter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := int64(1)
			if len(args) == 2 {
				var err error
				if delta, err = strconv.ParseInt(args[1], 10, 64); err != nil {
					return fmt.Errorf("delta: %w", err)
				}
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			var opts []cachemgr.CallOption
			if ttl != 0 {
				opts = append(opts, cachemgr.WithTTL(ttl))
			}
			n, err := a.m.Increment(ctx, args[0], delta, opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"value": n})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime applied when the counter is created")
	return cmd
}

func (a *app) flushCmd() *cobra.Command {
	var (
		tags []string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Remove the current namespace, tagged entries (--tag) or everything (--all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			switch {
			case all:
				ok, err := a.m.Clear(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]bool{"cleared": ok})
			case len(tags) > 0:
				n, err := a.m.FlushByTags(ctx, tags...)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"removed": n})
			default:
				n, err := a.m.FlushNamespace(ctx, a.m.Namespace())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"removed": n})
			}
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "flush entries carrying these tags")
	cmd.Flags().BoolVar(&all, "all", false, "flush every namespace")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print backend statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			s, err := a.m.Adapter().Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the backend answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			if err := a.m.Ping(ctx); err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"alive": true})
		},
	}
}

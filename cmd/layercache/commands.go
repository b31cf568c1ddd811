package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/layered"
	"github.com/goliatone/go-layered-cache/pkg/timeutil"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPutCmd(root *rootOptions) *cobra.Command {
	var (
		parent      string
		data        string
		storage     []string
		ttl         time.Duration
		localPeriod string
		periodLen   int
	)

	cmd := &cobra.Command{
		Use:   "put KIND [NAME]",
		Short: "Write one entity; without NAME the backing store assigns an id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := cache.ParseStorageSet(storage...)
			if err != nil {
				return err
			}

			var parentKey *cache.Key
			kinds := []string{args[0]}
			if parent != "" {
				if parentKey, err = cache.DecodeKey(parent); err != nil {
					return err
				}
				parentKinds, _ := kindsOf([]string{parent})
				kinds = append(kinds, parentKinds...)
			}

			fields := map[string]any{}
			if data != "" {
				if err := yaml.Unmarshal([]byte(data), &fields); err != nil {
					return errors.Wrap(err, "parse --data")
				}
			}

			key := cache.NewIncompleteKey(args[0], parentKey)
			if len(args) == 2 {
				key = cache.NewNameKey(args[0], args[1], parentKey)
			}

			container, logger, err := root.open(cmd, kinds...)
			if err != nil {
				return err
			}
			defer container.Close()

			opts := container.PutOptions()
			opts.Storage = set
			if ttl > 0 {
				opts.LocalTTL, opts.DistributedTTL = ttl, ttl
			}
			if localPeriod != "" {
				if opts.LocalTTL, err = periodTTL(localPeriod, periodLen); err != nil {
					return err
				}
			}

			keys, err := container.Coordinator().Put(cmd.Context(), opts, newRecord(key, fields))
			if err != nil {
				return err
			}
			logger.Debug().Int("count", len(keys)).Str("storage", opts.Storage.String()).Msg("put")
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k.Encode())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "canonical key of the parent entity")
	cmd.Flags().StringVarP(&data, "data", "d", "", "entity fields as a YAML or JSON object")
	cmd.Flags().StringSliceVarP(&storage, "storage", "s", []string{"memcache", "datastore"}, "tiers to write: local, memcache, datastore")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expiration for the cache tiers")
	cmd.Flags().StringVar(&localPeriod, "local-period", "", "expire the local copy at the next minute, hour or day boundary")
	cmd.Flags().IntVar(&periodLen, "period-length", 0, "length of the --local-period in its unit")
	return cmd
}

func periodTTL(period string, length int) (time.Duration, error) {
	switch period {
	case "minute":
		return timeutil.MinuteExpiration(length, 0), nil
	case "hour":
		return timeutil.HourExpiration(length, 0, 0), nil
	case "day":
		return timeutil.DayExpiration(length, 0, 0, 0), nil
	default:
		return 0, errors.Newf("unknown period %q: valid values are minute, hour and day", period)
	}
}

func newGetCmd(root *rootOptions) *cobra.Command {
	var (
		storage []string
		refresh []string
		shape   string
	)

	cmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Read entities, fastest tier first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := cache.ParseStorageSet(storage...)
			if err != nil {
				return err
			}
			refreshSet, err := cache.ParseStorageSet(refresh...)
			if err != nil {
				return err
			}
			resultShape, err := cache.ParseShape(shape)
			if err != nil {
				return err
			}
			kinds, err := kindsOf(args)
			if err != nil {
				return err
			}

			container, _, err := root.open(cmd, kinds...)
			if err != nil {
				return err
			}
			defer container.Close()

			opts := container.GetOptions()
			opts.Storage, opts.Refresh, opts.Shape = set, refreshSet, resultShape

			res, err := container.Coordinator().Get(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), args, res)
		},
	}

	cmd.Flags().StringSliceVarP(&storage, "storage", "s", []string{"local", "memcache", "datastore"}, "tiers to read")
	cmd.Flags().StringSliceVar(&refresh, "refresh", []string{"local", "memcache"}, "cache tiers to backfill")
	cmd.Flags().StringVar(&shape, "shape", cache.ListToken, "result shape: list, dict or name_dict")
	return cmd
}

func printResult(w io.Writer, requested []string, res *layered.Result) error {
	var out any
	switch res.Shape {
	case cache.ShapeDict:
		m := make(map[string]view, len(res.ByKey))
		for k, e := range res.ByKey {
			m[k] = viewOf(k, e)
		}
		out = m
	case cache.ShapeNameDict:
		m := make(map[string]view, len(res.ByName))
		for name, e := range res.ByName {
			m[name] = viewOf(name, e)
		}
		out = m
	default:
		views := make([]view, len(res.List))
		for i, e := range res.List {
			views[i] = viewOf(requested[i], e)
		}
		out = views
	}
	return encodeYAML(w, out)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var storage []string

	cmd := &cobra.Command{
		Use:   "delete KEY...",
		Short: "Remove entities from the selected tiers, all of them by default",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := cache.ParseStorageSet(storage...)
			if err != nil {
				return err
			}

			container, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer container.Close()

			if err := container.Coordinator().Delete(cmd.Context(), set, args); err != nil {
				return err
			}
			logger.Info().Int("count", len(args)).Msg("deleted")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&storage, "storage", "s", nil, "tiers to delete from; empty means all")
	return cmd
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		ancestor   string
		limit      int
		offset     int
		descending bool
		cacheTiers []string
		count      bool
	)

	cmd := &cobra.Command{
		Use:   "query KIND",
		Short: "List entities of a kind from the backing store, optionally through the query cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := cache.ParseStorageSet(cacheTiers...)
			if err != nil {
				return err
			}

			q := cache.Query{Name: "cli", Kind: args[0], Descending: descending}
			kinds := []string{args[0]}
			if ancestor != "" {
				if q.Ancestor, err = cache.DecodeKey(ancestor); err != nil {
					return err
				}
				ancestorKinds, _ := kindsOf([]string{ancestor})
				kinds = append(kinds, ancestorKinds...)
			}

			container, _, err := root.open(cmd, kinds...)
			if err != nil {
				return err
			}
			defer container.Close()

			queries := container.QueryCache()
			if count {
				n, err := queries.Count(cmd.Context(), q, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}

			result, err := queries.Fetch(cmd.Context(), q, limit, offset, layered.FetchOptions{Cache: set})
			if err != nil {
				return err
			}

			views := make([]view, len(result.Entities))
			for i, e := range result.Entities {
				views[i] = viewOf("", e)
			}
			return encodeYAML(cmd.OutOrStdout(), struct {
				Entities []view `yaml:"entities"`
				Cursor   string `yaml:"cursor,omitempty"`
			}{views, result.Cursor})
		},
	}

	cmd.Flags().StringVar(&ancestor, "ancestor", "", "only direct children of this key")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size; 0 means no limit")
	cmd.Flags().IntVar(&offset, "offset", 0, "entities to skip")
	cmd.Flags().BoolVar(&descending, "desc", false, "descending key order")
	cmd.Flags().StringSliceVar(&cacheTiers, "cache", nil, "cache the page in local and/or memcache")
	cmd.Flags().BoolVar(&count, "count", false, "print the number of matches instead")
	return cmd
}

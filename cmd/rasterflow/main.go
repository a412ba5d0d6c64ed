// Command rasterflow inspects and verifies rasterflow tile cache
// directories.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RASTERFLOW")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:          "rasterflow",
		Short:        "Inspect rasterflow tile caches",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	log := func() *zap.Logger {
		var level zapcore.Level
		if err := level.Set(v.GetString("log_level")); err != nil {
			level = zapcore.InfoLevel
		}
		return logger.New(os.Stderr, level)
	}

	root.AddCommand(newLsCmd())
	root.AddCommand(newVerifyCmd(log))
	return root
}

type cacheFile struct {
	path string
	tile int
	h    uint64
	size int64
}

func listCacheFiles(dir string) ([]cacheFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []cacheFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tile, h, ok := cache.ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, cacheFile{
			path: filepath.Join(dir, e.Name()),
			tile: tile,
			h:    h,
			size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tile < files[j].tile })
	return files, nil
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <cache-dir>",
		Short: "List the tiles of a cache directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := listCacheFiles(args[0])
			if err != nil {
				return err
			}
			var total int64
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%6d  %016x  %8s  %s\n",
					f.tile, f.h, humanize.Bytes(uint64(f.size)), filepath.Base(f.path))
				total += f.size
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tiles, %s\n", len(files), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}

func newVerifyCmd(log func() *zap.Logger) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "verify <cache-dir>",
		Short: "Verify every tile against the fingerprint in its name",
		Long: `Verify reads every cache file in the directory and checks its header
fingerprint and payload checksum against the fingerprint embedded in the
file name. Corrupt files can optionally be removed; the pipeline recomputes
them on next demand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := log()
			files, err := listCacheFiles(args[0])
			if err != nil {
				return err
			}
			var failures error
			for _, f := range files {
				if err := cache.Validate(f.path, f.h); err != nil {
					failures = multierr.Append(failures, err)
					l.Warn("Tile failed verification",
						zap.Int("tile", f.tile), zap.Error(err))
					if remove && cache.IsCorrupt(err) {
						if err := os.Remove(f.path); err != nil {
							failures = multierr.Append(failures, err)
						} else {
							l.Info("Removed corrupt tile", zap.String("path", f.path))
						}
					}
					continue
				}
				l.Debug("Tile ok", zap.Int("tile", f.tile))
			}
			if failures != nil {
				return fmt.Errorf("%d tiles failed verification: %w",
					len(multierr.Errors(failures)), failures)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tiles ok\n", len(files))
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove corrupt tiles")
	return cmd
}

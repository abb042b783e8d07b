/*
Copyright © 2019 the CCISM authors.
This file is part of CCISM.

CCISM is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CCISM is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CCISM.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ccismutil contains the command-line interface of CCISM.
package ccismutil

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ccism"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

// Log is the logger used by the commands.
var Log = logrus.StandardLogger()

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to CCISM.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "env_file",
			usage: `
              env_file specifies a file of KEY=value lines that are loaded into
              the environment before the configuration is read. A missing file
              is ignored.`,
			defaultVal: ".env",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level specifies the minimum level of log messages: one of
              debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "parameters",
			usage: `
              parameters specifies the variables to convert or read. By default
              all raster variables of the first image file are converted and all
              time series variables are read.`,
			shorthand:  "p",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), readCmd.Flags()},
		},
		{
			name: "land_points",
			usage: `
              land_points specifies whether to restrict the time series to the
              land points of the land mask.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "land_mask",
			usage: `
              land_mask specifies the path to the land mask NetCDF file. It is
              required if land_points is true. It can include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "land_mask_variable",
			usage: `
              land_mask_variable specifies the land flag variable in the land mask file.`,
			defaultVal: ccism.DefaultLandMaskVariable,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "ignore_meta",
			usage: `
              ignore_meta specifies whether to skip the product metadata when
              writing the time series files.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "buffer_size",
			usage: `
              buffer_size specifies the number of images held in memory before
              they are written to the time series files.`,
			defaultVal: 200,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "cadence",
			usage: `
              cadence specifies the observation schedule of the images: daily
              or 3h.`,
			defaultVal: "daily",
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "resolution",
			usage: `
              resolution specifies the grid spacing of the images in degrees.`,
			defaultVal: ccism.Resolution,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "cell_size",
			usage: `
              cell_size specifies the edge length in degrees of the cells that
              the time series files are split into.`,
			defaultVal: ccism.CellSize,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "workers",
			usage: `
              workers specifies the number of time series files written at once.
              The default (0) is the number of processors.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "open_files",
			usage: `
              open_files specifies the number of time series files kept open
              between writes.`,
			defaultVal: 64,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "upload",
			usage: `
              upload specifies a blob storage location that the time series files
              are copied to after reshuffling, e.g. gs://bucket/prefix,
              s3://bucket/prefix or file:///path.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags()},
		},
		{
			name: "progress",
			usage: `
              progress specifies whether to show a progress bar.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), downloadCmd.Flags()},
		},
		{
			name: "retries",
			usage: `
              retries specifies the number of times a failed file transfer is retried.`,
			defaultVal: 5,
			flagsets:   []*pflag.FlagSet{reshuffleCmd.Flags(), downloadCmd.Flags()},
		},
		{
			name: "gpi",
			usage: `
              gpi specifies the grid point to read. If it is negative, the
              grid point nearest to lon and lat is read.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
		{
			name: "lon",
			usage: `
              lon specifies the longitude of the location to read.`,
			defaultVal: math.NaN(),
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
		{
			name: "lat",
			usage: `
              lat specifies the latitude of the location to read.`,
			defaultVal: math.NaN(),
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
		{
			name: "offsets",
			usage: `
              offsets specifies values added to variables, in the format
              variable=value.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
		{
			name: "scale_factors",
			usage: `
              scale_factors specifies values that variables are multiplied
              with after any offset has been added, in the format variable=value.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
		{
			name: "summary",
			usage: `
              summary specifies whether to print summary statistics of each
              variable instead of the time series.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{readCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CCISM")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(reshuffleCmd)
	Root.AddCommand(readCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(downloadCmd)
}

// setConfig loads the environment file and finds and reads in the
// configuration file, if there is one. It then sets up logging.
func setConfig() error {
	if envFile := Cfg.GetString("env_file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ccism: problem reading environment file: %v", err)
		}
	}
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("ccism: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("ccism: %v", err)
	}
	Log.SetLevel(level)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "ccism",
	Short: "Convert ESA CCI soil moisture images to time series.",
	Long: `CCISM converts ESA CCI SM L3S soil moisture images, stored as one NetCDF
file per timestamp, into time series files with one file per 5°×5° grid cell,
and reads time series back from them.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CCISM_var' where 'var' is the
name of the variable to be set. Environment variables can also be set in a
.env file (see --env_file).
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of CCISM.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("CCISM v%s\n", ccism.Version)
	},
	DisableAutoGenTag: true,
}

var reshuffleCmd = &cobra.Command{
	Use:   "reshuffle input_root output_root start end",
	Short: "Convert images to time series.",
	Long: `reshuffle converts the images in input_root between start and end into
time series files in output_root. The images must be stored in one subdirectory
per year. start and end are dates in the format YYYY-MM-DD or YYYY-MM-DDTHH:MM.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ReshuffleConfig(args)
		if err != nil {
			return err
		}
		return Reshuffle(cmd.Context(), c, Cfg.GetString("upload"), Cfg.GetBool("progress"),
			Cfg.GetInt("retries"), cmd.ErrOrStderr())
	},
	DisableAutoGenTag: true,
}

var readCmd = &cobra.Command{
	Use:   "read ts_root",
	Short: "Print the time series of a location as CSV.",
	Long: `read prints the time series of one grid point of the archive in ts_root
as CSV with the columns time, variable and value. The grid point is given by
--gpi or by --lon and --lat, in which case the nearest grid point is read.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := ReadConfig(args[0])
		if err != nil {
			return err
		}
		return Read(req, cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

var gridCmd = &cobra.Command{
	Use:   "grid output_file",
	Short: "Write a grid file.",
	Long: `grid writes the grid points of the global grid, or of its land points if
--land_points is set, to a NetCDF file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Grid(args[0], Cfg.GetFloat64("resolution"), Cfg.GetFloat64("cell_size"),
			Cfg.GetBool("land_points"), os.ExpandEnv(Cfg.GetString("land_mask")),
			Cfg.GetString("land_mask_variable"))
	},
	DisableAutoGenTag: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download location output_dir",
	Short: "Download a time series archive.",
	Long: `download copies the time series files at a blob storage location, such
as gs://bucket/prefix, s3://bucket/prefix or file:///path, to output_dir.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Download(cmd.Context(), args[0], args[1], Cfg.GetBool("progress"),
			Cfg.GetInt("retries"), cmd.ErrOrStderr())
	},
	DisableAutoGenTag: true,
}

// parseTime parses a date in one of the formats accepted on the command line.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("ccism: invalid date %q; use YYYY-MM-DD or YYYY-MM-DDTHH:MM", s)
}

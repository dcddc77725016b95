// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.
package cmd

import (
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version of this software - filled in by ldflags in Makefile.
	Version string
	// BuildTime of this software - filled in by ldflags in Makefile.
	BuildTime string
)

// EnvPrefix prefixes the environment variables read for configuration, e.g.
// LRGRAPH_STORE for --store.
const EnvPrefix = "LRGRAPH"

func setupVersionBuild() {
	if Version == "" {
		Version = "v0.0.0"
	}
	if BuildTime == "" {
		BuildTime = "not recorded"
	}
}

// subcommands are listed in the order a deployment runs them: harvest the
// feeds, reconcile the taxonomies, then look things up. publish feeds Kafka
// for a later harvest.
var subcommands = []func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command{
	NewHarvestCommand,
	NewReconcileCommand,
	NewLookupCommand,
	NewPublishCommand,
}

// NewRootCommand creates the top level lrgraph command with every
// subcommand attached.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	setupVersionBuild()
	rc := &cobra.Command{
		Use:     "lrgraph",
		Short:   "lrgraph - Learning Registry standards alignment graph",
		Version: Version + " (built " + BuildTime + ")",
		Long: `Harvests Learning Registry alignment data into a graph of
resources, standards and submitters, reconciles standard identifiers
across taxonomies, and answers questions about who submitted what.

Every flag can also be set with an ` + EnvPrefix + `_ environment variable
(--max-retries is ` + EnvPrefix + `_MAX_RETRIES) or in the file given by
--config. Flags win over the environment, which wins over the file. The
file is TOML unless its extension says otherwise (.yaml, .json). A key in
the file which names no flag of the command is an error.

Version: ` + Version + `
Build Time: ` + BuildTime + "\n",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags(), EnvPrefix)
		},
		SilenceUsage: true,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	for _, newCmd := range subcommands {
		rc.AddCommand(newCmd(stdin, stdout, stderr))
	}
	rc.SetOutput(stderr)
	return rc
}

// setAllConfig fills every flag in flags which wasn't set on the command
// line from the environment (envPrefix_FLAG_NAME, dashes as underscores) or
// else from the config file named by the "config" flag. Flags hold pointers
// to the Main structs, so this sets the commands' configuration directly.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet, envPrefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		if err := readConfigFile(v, flags, c); err != nil {
			return err
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		// the command line beats everything, and setting a slice flag
		// again would append to it
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(configValue(v, f)); err != nil {
			flagErr = errors.Wrapf(err, "setting %s", f.Name)
		}
	})
	return flagErr
}

func readConfigFile(v *viper.Viper, flags *pflag.FlagSet, name string) error {
	v.SetConfigFile(name)
	switch ext := strings.TrimPrefix(filepath.Ext(name), "."); ext {
	case "yaml", "yml", "json":
		v.SetConfigType(ext)
	default:
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading configuration file '%s'", name)
	}
	var unknown []string
	for _, key := range v.AllKeys() {
		if flags.Lookup(key) == nil {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("configuration file '%s' sets unknown options: %s", name, strings.Join(unknown, ", "))
	}
	return nil
}

// configValue gets the string form of f's value from viper. Slices from a
// config file are arrays there, which GetString renders as "".
func configValue(v *viper.Viper, f *pflag.Flag) string {
	if f.Value.Type() == "stringSlice" {
		return strings.Join(v.GetStringSlice(f.Name), ",")
	}
	return v.GetString(f.Name)
}

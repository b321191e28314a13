package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mudbooker/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or write the stored runtime settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key...]",
	Short: "Print stored settings (all known keys when none are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		keys := args
		if len(keys) == 0 {
			keys = append(append([]string{}, settings.Keys...), settings.KeyLastRun, settings.KeyNextRun)
		}
		kv, err := a.Store().Get(cmd.Context(), keys)
		if err != nil {
			return err
		}
		sort.Strings(keys)
		out := cmd.OutOrStdout()
		for _, k := range keys {
			if v, ok := kv[k]; ok {
				fmt.Fprintf(out, "%s=%v\n", k, v)
			}
		}
		return nil
	},
}

var settingsSetFlags struct {
	unset []string
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Write settings; --unset removes keys",
	Long: `Write one or more settings in a single batch. Values are stored as text; an
empty value is stored as "" (for prefix and suffix that disables them). A
running scheduler picks the change up from storage; changing interval restarts
it.

Examples:
  mudbooker settings set interval=c custom_interval=30
  mudbooker settings set prefix=auto- format_mon=long
  mudbooker settings set suffix=
  mudbooker settings set --unset prefix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kv, err := parseAssignments(args, settingsSetFlags.unset)
		if err != nil {
			return err
		}
		if len(kv) == 0 {
			return fmt.Errorf("nothing to set: give key=value pairs or --unset key")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().Set(cmd.Context(), kv); err != nil {
			return err
		}
		r, err := a.Settings().Reload(cmd.Context(), a.Store())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d key(s); applied: %s\n", len(kv), strings.Join(r.Applied, ", "))
		return nil
	},
}

// parseAssignments turns key=value args into a storage batch. Values stay raw
// strings; unset keys map to nil, which the store treats as a delete.
func parseAssignments(args, unset []string) (map[string]any, error) {
	kv := make(map[string]any, len(args)+len(unset))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		kv[k] = v
	}
	for _, k := range unset {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("--unset needs a key")
		}
		if _, dup := kv[k]; dup {
			return nil, fmt.Errorf("%s is both set and unset", k)
		}
		kv[k] = nil
	}
	return kv, nil
}

func init() {
	settingsSetCmd.Flags().StringSliceVar(&settingsSetFlags.unset, "unset", nil, "remove a stored key (repeatable)")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

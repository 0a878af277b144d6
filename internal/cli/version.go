// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo describes this binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Build returns the current BuildInfo.
func Build() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func newVersionCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := Build()
			switch output {
			case "json":
				raw, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, string(raw))
			case "short":
				fmt.Fprintln(a.out, info.Version)
			case "text", "":
				fmt.Fprintf(a.out, "chatrelay %s\n", info.Version)
				fmt.Fprintf(a.out, "  Commit:     %s\n", info.GitCommit)
				fmt.Fprintf(a.out, "  Built:      %s\n", info.BuildDate)
				fmt.Fprintf(a.out, "  Go version: %s\n", info.GoVersion)
				fmt.Fprintf(a.out, "  Platform:   %s\n", info.Platform)
			default:
				return &usageError{err: fmt.Errorf("unknown output format %q (text, json, short)", output)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, short")
	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const latestReleaseURL = "https://api.github.com/repos/crmarques/portsync/releases/latest"

func newVersionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:     "version",
		GroupID: groupUtility,
		Short:   "Print the portsync CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), formatVersion())
			if !check {
				return nil
			}
			return checkLatestRelease(cmd)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check whether a newer release is available")
	return cmd
}

func formatVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(Commit)
	if commit == "" {
		commit = "none"
	}
	date := strings.TrimSpace(Date)
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("portsync %s (%s, %s) %s", version, commit, date, runtime.Version())
}

func checkLatestRelease(cmd *cobra.Command) error {
	current, err := semver.NewVersion(strings.TrimPrefix(Version, "v"))
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "development build, skipping release check")
		return nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(latestReleaseURL)
	if err != nil {
		return fmt.Errorf("release check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release check returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("release check failed: %w", err)
	}

	latest, err := semver.NewVersion(strings.TrimPrefix(release.TagName, "v"))
	if err != nil {
		return fmt.Errorf("release check returned malformed tag %q", release.TagName)
	}

	if latest.GreaterThan(current) {
		fmt.Fprintf(cmd.OutOrStdout(), "newer release available: %s\n", release.TagName)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "up to date")
	}
	return nil
}

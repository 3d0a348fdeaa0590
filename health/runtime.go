package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/saiset-co/sai-sync/types"
)

// BuildInfo is stamped at deploy time through env vars or a build.info
// file next to the binary. Missing fields stay at their defaults.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitBranch string    `json:"git_branch"`
	BuildTime time.Time `json:"build_time"`
}

func (b *BuildInfo) Summary() string {
	commit := b.GitCommit[:min(len(b.GitCommit), 7)]
	return fmt.Sprintf("%s-%s (%s)", b.Version, commit, b.BuildTime.Format("2006-01-02"))
}

// runtimeChecker reports process build and runtime details. It never
// fails; its value is the Details payload in the report.
func runtimeChecker() types.HealthChecker {
	buildInfo := collectBuildInfo()

	return func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Message: buildInfo.Summary(),
			Details: map[string]interface{}{
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
				"goroutines": runtime.NumGoroutine(),
				"git_commit": buildInfo.GitCommit,
				"git_branch": buildInfo.GitBranch,
			},
		}
	}
}

func collectBuildInfo() *BuildInfo {
	buildInfo := &BuildInfo{
		Version:   getEnvOrDefault("BUILD_VERSION", "dev"),
		GitCommit: getEnvOrDefault("BUILD_COMMIT", "unknown"),
		GitBranch: getEnvOrDefault("BUILD_BRANCH", "unknown"),
	}

	if buildTimeStr := getEnvOrDefault("BUILD_TIME", ""); buildTimeStr != "" {
		if buildTime, err := time.Parse(time.RFC3339, buildTimeStr); err == nil {
			buildInfo.BuildTime = buildTime
		}
	}

	if fileInfo := readBuildInfoFile(); fileInfo != nil {
		if fileInfo.Version != "" {
			buildInfo.Version = fileInfo.Version
		}
		if fileInfo.GitCommit != "" {
			buildInfo.GitCommit = fileInfo.GitCommit
		}
		if fileInfo.GitBranch != "" {
			buildInfo.GitBranch = fileInfo.GitBranch
		}
		if !fileInfo.BuildTime.IsZero() {
			buildInfo.BuildTime = fileInfo.BuildTime
		}
	}

	return buildInfo
}

func readBuildInfoFile() *BuildInfo {
	paths := []string{
		"build.info",
		"./build.info",
		"../build.info",
		"/app/build.info",
	}

	for _, path := range paths {
		if data, err := os.ReadFile(path); err == nil {
			return parseBuildInfoFile(string(data))
		}
	}

	return nil
}

func parseBuildInfoFile(content string) *BuildInfo {
	buildInfo := &BuildInfo{}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "VERSION":
			buildInfo.Version = value
		case "GIT_COMMIT":
			buildInfo.GitCommit = value
		case "GIT_BRANCH":
			buildInfo.GitBranch = value
		case "BUILD_TIME":
			if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
				buildInfo.BuildTime = buildTime
			}
		}
	}

	return buildInfo
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

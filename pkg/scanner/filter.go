package scanner

import (
	"strings"

	"github.com/devports/procwatch/pkg/models"
)

var ignorePatterns = []string{
	"/.cursor/",
	"cursor.app",
	"cursor-server",
	"/.vscode/",
	"code helper",
	"com.microsoft.vscode",
	"controlcenter",
	"rapportd",
}

var devPatterns = []string{
	"node",
	"npm",
	"yarn",
	"pnpm",
	"python",
	"ruby",
	"rails",
	"java",
	"mvn",
	"gradle",
	"cargo",
	"php",
	"dotnet",
	"flask",
	"django",
	"uvicorn",
	"gunicorn",
	"next",
	"nuxt",
	"vite",
	"webpack",
	"parcel",
	"deno",
	"bun",
	"hugo",
	"jekyll",
	"go-build",
	"/go/bin/",
}

// IsDevRecord checks if a listening socket likely belongs to a development server
func IsDevRecord(r models.PortRecord) bool {
	text := strings.ToLower(r.ProcessName + " " + r.Command)
	for _, pattern := range ignorePatterns {
		if strings.Contains(text, pattern) {
			return false
		}
	}
	for _, pattern := range devPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// FilterDevRecords keeps only development-related sockets
func FilterDevRecords(records []models.PortRecord) []models.PortRecord {
	filtered := make([]models.PortRecord, 0, len(records))
	for _, r := range records {
		if IsDevRecord(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

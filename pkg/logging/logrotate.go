package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for the log directory
func GenerateLogrotateConfig(dir, service string) string {
	return fmt.Sprintf(`# Logrotate configuration for %s
# Install: sudo cp this file to /etc/logrotate.d/%s

%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, service, service, dir)
}

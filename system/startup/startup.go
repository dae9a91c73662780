package startup

import (
	"fmt"
	"os"
	"path/filepath"
)

const DefaultServicePath = "/etc/systemd/system/pump-controller.service"

// Unit describes the systemd service that runs the controller unattended.
type Unit struct {
	ExecPath   string
	ConfigPath string
	User       string
	WorkDir    string
}

func (u Unit) Render() string {
	user := u.User
	if user == "" {
		user = "root"
	}
	workdir := u.WorkDir
	if workdir == "" {
		workdir = filepath.Dir(u.ExecPath)
	}

	return fmt.Sprintf(`[Unit]
Description=Pump controller service
After=network.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=5s
KillSignal=SIGTERM
TimeoutStopSec=30s

[Install]
WantedBy=multi-user.target
`, user, workdir, u.ExecPath, u.ConfigPath)
}

// InstallService writes the rendered unit to path. Paths in the unit are made
// absolute so the service does not depend on the installer's working directory.
func InstallService(path string, u Unit) error {
	var err error
	if u.ExecPath, err = filepath.Abs(u.ExecPath); err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	if u.ConfigPath, err = filepath.Abs(u.ConfigPath); err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create service directory: %w", err)
	}
	return os.WriteFile(path, []byte(u.Render()), 0644)
}

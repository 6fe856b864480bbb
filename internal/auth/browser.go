package auth

import (
	"os/exec"
	"runtime"
)

// systemBrowser returns an opener that launches the given command, or
// the platform default when command is empty.
func systemBrowser(command string) func(url string) error {
	return func(url string) error {
		name := command
		args := []string{url}
		if name == "" {
			switch runtime.GOOS {
			case "darwin":
				name = "open"
			case "windows":
				name = "rundll32"
				args = []string{"url.dll,FileProtocolHandler", url}
			default:
				name = "xdg-open"
			}
		}
		return exec.Command(name, args...).Start()
	}
}

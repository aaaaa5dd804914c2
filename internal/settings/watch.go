package settings

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchProfile watches a profile config file (the same YAML the CLI
// tooling writes) and invokes onChange with the new server URL and
// token whenever it is rewritten. Edits flow into the same debounced
// reconnect path as a server-changed push, so external `login` runs are
// picked up without restarting the sidecar.
//
// The returned stop func releases the watcher.
func WatchProfile(path string, onChange func(url, token string)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and CLIs replace the file by rename,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	base := filepath.Base(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				url, token, err := readProfile(path)
				if err != nil {
					log.Printf("settings: profile reload failed: %v", err)
					continue
				}
				onChange(url, token)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("settings: watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// readProfile parses the profile file for the server connection pair.
func readProfile(path string) (url, token string, err error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", "", err
	}
	return v.GetString("server.url"), v.GetString("server.access_token"), nil
}

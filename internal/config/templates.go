package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "inprocess":
		return inprocessTemplate, nil
	case "process":
		return processTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const inprocessTemplate = `name = "counter"
source = "#counter"
mode = "inprocess"
auto_start = true
start_args = [3]
exit_on_terminate = true
heartbeat = "30s"
shutdown_timeout = "5s"
admin_addr = "127.0.0.1:7020"
cors_origins = ["http://localhost:3000"]
journal_dsn = "webworker.db"

[scripts]
"#counter" = '''
var remaining = startArgs[0];
self.on('tick', function () {
	remaining--;
	self.trigger('count', remaining);
	if (remaining <= 0) {
		self.close(true);
	}
});
self.terminateHandler = function () { return remaining; };
for (var i = 0; i < startArgs[0]; i++) {
	self.triggerSelf('tick');
}
'''
`

const processTemplate = `name = "fetched"
source = "worker.js"
mode = "process"
workerd_path = "workerd"
base_dir = "."
fetch_timeout = "10s"
auto_start = true
exit_on_terminate = false
legacy_actions = false
heartbeat = "30s"
admin_addr = "127.0.0.1:7020"
admin_token = "change-me"
`

package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// ServiceName is stamped on every log line so aggregated streams stay
// attributable when several services share a sink.
const ServiceName = "fiado-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger. Output is swappable for tests.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON line per HTTP request, tagged with the service
// name. The entry map is modified in place.
func LogRequest(entry map[string]any) {
	entry["service"] = ServiceName
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + ServiceName + `","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

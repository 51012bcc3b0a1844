package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like API keys or tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Reminder, newCfg.Reminder) {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
			logx.Int("reminder.parallelism", newCfg.Reminder.Parallelism),
		)
	}

	// Content (never log api_key)
	oc, nc := oldCfg.Content, newCfg.Content
	keyChanged := (strings.TrimSpace(oc.APIKey) != "") != (strings.TrimSpace(nc.APIKey) != "") || oc.APIKey != nc.APIKey
	oc.APIKey, nc.APIKey = "", ""
	if keyChanged || !reflect.DeepEqual(oc, nc) {
		changed = append(changed, "content")
		attrs = append(attrs,
			logx.String("content.provider", nc.Provider),
			logx.String("content.model", nc.Model),
			logx.Bool("content.api_key_set", strings.TrimSpace(newCfg.Content.APIKey) != ""),
		)
	}

	ot, nt := oldCfg.Trigger, newCfg.Trigger
	ot.Token, nt.Token = "", ""
	if !reflect.DeepEqual(ot, nt) || oldCfg.Trigger.Token != newCfg.Trigger.Token {
		changed = append(changed, "trigger")
		attrs = append(attrs, logx.String("trigger.driver", nt.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		var sink string
		if newCfg.Delivery != nil {
			sink = newCfg.Delivery.Sink
		}
		attrs = append(attrs, logx.String("delivery.sink", sink))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = "", ""
	if !reflect.DeepEqual(oh, nh) || oldCfg.HTTP.Token != newCfg.HTTP.Token {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventHandler = (*Service)(nil)
	_ EventHandler = (*Listener)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

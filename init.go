package rxv6

import log "github.com/sirupsen/logrus"

func init() {
	// Setup logrus
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(log.InfoLevel)
}

// SetLogLevel applies a level name from the config.
func SetLogLevel(name string) error {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

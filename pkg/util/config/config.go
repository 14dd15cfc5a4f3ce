package config

import (
	"log"
	"sync"

	"github.com/Jeffail/gabs"
)

const configFile = "config.json"

var (
	once   sync.Once
	config *gabs.Container
)

// Get returns config data with the given path.
// Config data is only allowed in string type.
func Get(path string) string {
	once.Do(load)

	v, ok := config.Path(path).Data().(string)
	if !ok {
		return ""
	}
	return v
}

func load() {
	json, err := gabs.ParseJSONFile(configFile)
	if err != nil {
		log.Panic(err)
	}

	config = json
}

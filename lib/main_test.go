package lib

import (
	"os"
	"testing"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	log "github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.ErrorLevel)
	Pool = rp.NewRingPool("BTCP-TEST: ", 4096, NewPayload, 1008)
	os.Exit(m.Run())
}

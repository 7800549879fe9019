package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"estatesettle/internal/ledger"
	"estatesettle/pkg/config"
)

// keygen creates an encrypted signer key in the keystore and prints its
// address, which is what TREASURY_KEY or NOTARY_KEY then name.
func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: keygen [-dir keystore]\nthe key is encrypted with KEY_PASSWORD\n")
		flag.PrintDefaults()
	}
	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("> invalid configuration: %v", err)
	}
	dir := flag.String("dir", settings.KeyStoreDir, "keystore directory")
	flag.Parse()
	config.SetupLogging(settings, "keygen")

	if settings.KeyPassword == "" {
		logrus.Fatal("> KEY_PASSWORD must be set to encrypt the new key")
	}
	key, err := ledger.NewKeyStore(*dir).Generate(settings.KeyPassword)
	if err != nil {
		logrus.Fatalf("> generate key: %v", err)
	}
	logrus.Infof("> key stored in %s", *dir)
	fmt.Println(key.PublicKey().String())
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"estatesettle/pkg/config"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the SQL migrations")
	steps := flag.Int("steps", 1, "migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-dir migrations] [-steps n] up|down\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("> invalid configuration: %v", err)
	}
	config.SetupLogging(settings, "migrate")

	switch flag.Arg(0) {
	case "up":
		// tables come from AutoMigrate in InitDB; the SQL files add constraints on top
		config.InitDB(settings)
		err = config.ExecuteMigrations(*dir)
	case "down":
		config.InitDB(settings)
		err = config.RollbackMigration(*dir, *steps)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logrus.Fatalf("> migrate %s failed: %v", flag.Arg(0), err)
	}
	logrus.Infof("> migrate %s done", flag.Arg(0))
}

package main

import (
	formatter "github.com/bluexlab/logrus-formatter"
	"github.com/tnscm/tnscm/pkg/tnscm/cli"
)

func main() {
	formatter.InitLogger()
	cli := cli.App{}
	cli.Run()
}

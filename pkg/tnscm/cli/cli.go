package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/config"
	"github.com/tnscm/tnscm/pkg/openssl"
	"github.com/tnscm/tnscm/pkg/tnscm/api"
	"github.com/tnscm/tnscm/pkg/tnscm/auth"
	"github.com/tnscm/tnscm/pkg/tnscm/renew"
	"github.com/tnscm/tnscm/pkg/tnscm/session"
	"github.com/tnscm/tnscm/pkg/tnscm/truenas"
	"github.com/tnscm/tnscm/pkg/util"
)

type App struct{}

type ServerCmd struct {
	Config string `short:"c" long:"config" type:"existingfile" help:"Path to the configuration file"`
}

type CAListCmd struct{}

type MeCmd struct{}

type RenewCmd struct{}

type CertListCmd struct{}

type QRCodeCmd struct {
	ID int `arg:"" help:"Certificate ID to issue a pickup session for"`
}

type TnscmCli struct {
	Server ServerCmd `cmd:"" help:"Run the certificate portal."`

	Client struct {
		Server      string `short:"s" long:"server" help:"Portal address" required:""`
		Fingerprint string `short:"f" long:"fingerprint" help:"Client certificate fingerprint to act as"`

		CA     CAListCmd   `cmd:"" help:"List certificate authorities."`
		Me     MeCmd       `cmd:"" help:"Show the caller's certificate and its lineage."`
		Renew  RenewCmd    `cmd:"" help:"Renew the caller's certificate."`
		Certs  CertListCmd `cmd:"" help:"List all certificates (admin)."`
		QRCode QRCodeCmd   `cmd:"" help:"Create a pickup session for a certificate (admin)."`
	} `cmd:""`
}

// Config composes the per-component configuration sections of the portal.
type Config struct {
	TrueNAS truenas.Config       `yaml:"truenas"`
	Admin   auth.Config          `yaml:"admin"`
	Renew   renew.Config         `yaml:"renew"`
	Session session.Config       `yaml:"session"`
	Server  api.RestServerConfig `yaml:"server"`
}

func (*App) Run() {
	cli := TnscmCli{}
	ctx := kong.Parse(&cli)
	err := ctx.Run(&cli)
	if err != nil {
		logrus.Errorf("failed to run command: %v", err)
		os.Exit(1)
	}
}

func (cmd *ServerCmd) Run(cli *TnscmCli) error {
	cfg := Config{}
	if err := config.FromFile(cli.Server.Config, &cfg); err != nil {
		logrus.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	connector := truenas.NewRestConnectorWithConfig(cfg.TrueNAS)
	authorizer, err := auth.NewAuthorizer(connector, cfg.Admin)
	if err != nil {
		logrus.Errorf("failed to create authorizer: %v", err)
		os.Exit(1)
	}
	converter := openssl.NewCommandConverter()
	renewer := renew.NewService(connector, authorizer, converter, cfg.Renew)
	sessions := session.NewStore(cfg.Session)

	restServer := api.NewRestServer(connector, authorizer, renewer, sessions, converter, cfg.Server.ServerAddress)

	logrus.Info("starting certificate portal.")
	go func() {
		if err := restServer.Run(); err != nil {
			logrus.Errorf("failed to start certificate portal: %v", err)
			os.Exit(1)
		}
	}()

	cmd.waitForInterrupt()
	restServer.Close(context.Background())
	return nil
}

func (cmd *ServerCmd) waitForInterrupt() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server......")
}

func (*CAListCmd) Run(cli *TnscmCli) error {
	client := NewRestClient(cli.Client.Server, cli.Client.Fingerprint)
	cas, err := client.ListCertificateAuthorities()
	if err != nil {
		logrus.Errorf("failed to list certificate authorities: %v", err)
		os.Exit(1)
	}

	printIndented(cas)
	return nil
}

func (*MeCmd) Run(cli *TnscmCli) error {
	client := NewRestClient(cli.Client.Server, cli.Client.Fingerprint)
	me, err := client.Me()
	if err != nil {
		logrus.Errorf("failed to fetch caller certificate: %v", err)
		os.Exit(1)
	}

	printIndented(me)
	return nil
}

func (*RenewCmd) Run(cli *TnscmCli) error {
	client := NewRestClient(cli.Client.Server, cli.Client.Fingerprint)
	renewed, err := client.Renew()
	if err != nil {
		logrus.Errorf("failed to renew certificate: %v", err)
		os.Exit(1)
	}

	if renewed.Issued {
		logrus.Infof("Issued certificate %d (%s)", renewed.Certificate.ID, renewed.Certificate.Name)
	} else {
		logrus.Infof("Certificate %d (%s) is already the newest", renewed.Certificate.ID, renewed.Certificate.Name)
	}
	printIndented(renewed.Certificate)
	return nil
}

func (*CertListCmd) Run(cli *TnscmCli) error {
	client := NewRestClient(cli.Client.Server, cli.Client.Fingerprint)
	certs, err := client.ListCertificates()
	if err != nil {
		logrus.Errorf("failed to list certificates: %v", err)
		os.Exit(1)
	}

	printIndented(certs)
	return nil
}

func (*QRCodeCmd) Run(cli *TnscmCli) error {
	client := NewRestClient(cli.Client.Server, cli.Client.Fingerprint)
	pickup, err := client.CreatePickupSession(cli.Client.QRCode.ID)
	if err != nil {
		logrus.Errorf("failed to create pickup session: %v", err)
		os.Exit(1)
	}

	logrus.Infof("Pickup session created: %s", pickup.URL)
	return nil
}

func printIndented(v any) {
	pretty := bytes.Buffer{}
	json.Indent(&pretty, []byte(util.StructToJSON(v)), "", "  ")
	fmt.Println(pretty.String())
}

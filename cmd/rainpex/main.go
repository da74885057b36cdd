package main

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"

	"github.com/cenkalti/log"
	"github.com/urfave/cli"

	"github.com/cenkalti/rainpex/internal/config"
	"github.com/cenkalti/rainpex/internal/endpoint"
	"github.com/cenkalti/rainpex/internal/jsonutil"
	"github.com/cenkalti/rainpex/internal/logger"
	"github.com/cenkalti/rainpex/internal/peer"
	"github.com/cenkalti/rainpex/internal/peerprotocol"
	"github.com/cenkalti/rainpex/internal/pex"
	"github.com/cenkalti/rainpex/internal/swarm"
)

var cfg = config.DefaultConfig

func main() {
	app := cli.NewApp()
	app.Name = "rainpex"
	app.Usage = "BitTorrent peer exchange (ut_pex) tool"
	app.Version = config.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "~/.rainpex.yaml",
			Usage: "read config from `FILE`",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:   "config",
			Usage:  "print effective config",
			Action: handleConfig,
		},
		{
			Name:  "handshake",
			Usage: "print an encoded extension handshake",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "remote",
					Usage: "IP address of the remote peer, sent as yourip",
				},
				cli.BoolFlag{
					Name:  "private",
					Usage: "build handshake for a private torrent",
				},
			},
			Action: handleHandshake,
		},
		{
			Name:      "decode",
			Usage:     "parse a received payload and print the result",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "hex",
					Usage: "file content is hex encoded",
				},
				cli.BoolFlag{
					Name:  "handshake",
					Usage: "payload is an extension handshake instead of a ut_pex message",
				},
			},
			Action: handleDecode,
		},
		{
			Name:  "simulate",
			Usage: "exchange PEX rounds between two in-memory peers",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "peers",
					Value: 20,
					Usage: "number of peers connected to the local swarm",
				},
				cli.IntFlag{
					Name:  "rounds",
					Value: 5,
					Usage: "number of PEX rounds",
				},
				cli.IntFlag{
					Name:  "churn",
					Value: 3,
					Usage: "peers connected and disconnected between rounds",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "random seed",
				},
			},
			Action: handleSimulate,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	if c.GlobalBool("debug") {
		logger.SetLevel(log.DEBUG)
	}
	loaded, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	cfg = *loaded
	return nil
}

func handleConfig(c *cli.Context) error {
	b, err := jsonutil.MarshalCompactPretty(cfg)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func handleHandshake(c *cli.Context) error {
	var remote endpoint.Endpoint
	if s := c.String("remote"); s != "" {
		ip := net.ParseIP(s)
		if ip == nil {
			return fmt.Errorf("invalid IP address: %q", s)
		}
		var ok bool
		remote, ok = endpoint.FromIP(ip, 0)
		if !ok {
			return fmt.Errorf("not an IPv4 address: %q", s)
		}
	}
	st := pex.NewState(remote, c.Bool("private"), &cfg)
	b, err := st.BuildHandshake(pex.NewCapabilities(&cfg))
	if err != nil {
		return err
	}
	fmt.Printf("%q\n", b)
	fmt.Println(hex.EncodeToString(b))
	return nil
}

type handshakeOutput struct {
	SupportsPEX bool
	PEXID       uint8
	Port        uint16
	Client      string
	YourIP      string
}

type messageOutput struct {
	Added   []string
	Flags   string
	Dropped []string
	Ignored bool
}

func handleDecode(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("give a payload file as argument", 1)
	}
	b, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.Bool("hex") {
		b, err = hex.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return err
		}
	}
	st := pex.NewState(endpoint.Endpoint{}, false, &cfg)
	var out interface{}
	if c.Bool("handshake") {
		err = st.ParseHandshake(b)
		if err != nil {
			return err
		}
		ho := handshakeOutput{
			SupportsPEX: st.SupportID() != 0,
			PEXID:       st.SupportID(),
			Port:        st.RemotePort(),
			Client:      st.ClientName(),
		}
		if ip := st.ExternalIP(); ip != nil {
			ho.YourIP = ip.String()
		}
		out = ho
	} else {
		sw := swarm.New("decode", false, &cfg)
		r, err := st.ParseMessage(b, sw)
		if err != nil {
			return err
		}
		out = messageOutput{
			Added:   endpointStrings(r.Added),
			Flags:   hex.EncodeToString(r.Flags),
			Dropped: endpointStrings(r.Dropped),
			Ignored: r.Ignored,
		}
	}
	b, err = jsonutil.MarshalCompactPretty(out)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func endpointStrings(l []endpoint.Endpoint) []string {
	ret := make([]string, 0, len(l))
	for _, e := range l {
		ret = append(ret, e.String())
	}
	return ret
}

type chanSender chan peerprotocol.ExtensionMessage

func (s chanSender) SendMessage(msg peerprotocol.ExtensionMessage) { s <- msg }

func handleSimulate(c *cli.Context) error {
	rnd := rand.New(rand.NewSource(c.Int64("seed")))
	numPeers := c.Int("peers")
	churn := c.Int("churn")

	local := swarm.New("local", false, &cfg)
	next := 1
	connect := func() error {
		ip := net.IPv4(10, 0, byte(next>>8), byte(next))
		next++
		addr := &net.TCPAddr{IP: ip, Port: 6881}
		_, err := local.Connect(addr.String(), addr, true)
		return err
	}
	for i := 0; i < numPeers; i++ {
		if err := connect(); err != nil {
			return err
		}
	}

	remoteAddr := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 51413}
	remote, err := local.Connect(remoteAddr.String(), remoteAddr, true)
	if err != nil {
		return err
	}
	localAddr, _ := endpoint.FromIP(net.IPv4(192, 0, 2, 2), cfg.PublicPort)

	// The remote side is driven directly through its State.
	remoteSwarm := swarm.New("remote", false, &cfg)
	remoteState := pex.NewState(localAddr, false, &cfg)
	remoteCaps := pex.Capabilities{Version: "simulated", PEXID: 2, PublicPort: remote.Port}

	sender := make(chanSender, 16)
	m := pex.NewMetrics(nil)
	p := peer.New(remoteAddr.String(), remote, sender, local, &cfg, m)
	go p.Run()
	defer p.Close()

	deliver := func() error {
		for {
			select {
			case msg := <-sender:
				switch msg.ExtendedMessageID {
				case peerprotocol.ExtensionIDHandshake:
					if err := remoteState.ParseHandshake(msg.Payload); err != nil {
						return err
					}
				case remoteCaps.PEXID:
					r, err := remoteState.ParseMessage(msg.Payload, remoteSwarm)
					if err != nil {
						return err
					}
					fmt.Printf("  added=%d dropped=%d accepted=%d ignored=%v\n", len(r.Added), len(r.Dropped), r.Accepted, r.Ignored)
				default:
					return fmt.Errorf("unexpected extension message id: %d", msg.ExtendedMessageID)
				}
			default:
				return nil
			}
		}
	}

	hs, err := remoteState.BuildHandshake(remoteCaps)
	if err != nil {
		return err
	}
	fmt.Println("handshake")
	err = p.HandleMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDHandshake, Payload: hs})
	if err != nil {
		return err
	}
	if err = deliver(); err != nil {
		return err
	}

	ids := func() []string {
		l := local.Snapshot("")
		ret := make([]string, 0, len(l))
		for _, sp := range l {
			if sp.Endpoint != remote {
				ret = append(ret, sp.Endpoint.String())
			}
		}
		return ret
	}
	for i := 1; i <= c.Int("rounds"); i++ {
		for j := 0; j < churn; j++ {
			if l := ids(); len(l) > 0 {
				local.Disconnect(l[rnd.Intn(len(l))])
			}
			if rnd.Intn(2) == 0 {
				if err = connect(); err != nil {
					return err
				}
			}
		}
		fmt.Printf("round %d: connected=%d\n", i, local.NumConnected())
		p.Flush()
		if err = deliver(); err != nil {
			return err
		}
	}
	fmt.Printf("remote swarm knows %d peers\n", remoteSwarm.NumPeers())

	b, err := jsonutil.MarshalMapPretty(m.Snapshot())
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

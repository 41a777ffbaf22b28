package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"

	"cycles/bot"
	"cycles/config"
	"cycles/protocol"
	"cycles/server"
)

// 随机游走机器人：连接服务端，每帧选择一个不立即撞死的方向
func main() {
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed for the walk")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("usage: bot [-seed n] <name>")
		return
	}
	name := flag.Arg(0)

	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("failed to load .env: %v\n", err)
	}
	if err := server.InitLogger(fmt.Sprintf("bot-%s.log", name), "info"); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	log := server.Log.With("bot", name)

	port, err := config.Port()
	if err != nil {
		log.Fatalf("%v", err)
	}
	addr := net.JoinHostPort(config.Host(), strconv.Itoa(port))
	conn, err := bot.Dial(addr, 5*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", addr, err)
	}
	defer conn.Close()

	color, err := conn.Connect(name)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Infow("connected", "addr", addr, "color", color.String())

	var strategy bot.Strategy = bot.NewRandomWalk(*seed)
	for conn.Active() {
		state, err := conn.ReceiveGameState()
		if err != nil {
			log.Infof("stopped receiving game state: %v", err)
			return
		}
		me, ok := state.PlayerByName(name)
		if !ok {
			log.Infow("eliminated", "frame", state.Frame)
			return
		}
		d, err := strategy.Decide(state, me)
		if errors.Is(err, bot.ErrNoValidMove) {
			log.Infow("no valid move left", "frame", state.Frame)
			d = protocol.North
		} else if err != nil {
			log.Fatalf("strategy: %v", err)
		}
		if err := conn.SendMove(d); err != nil {
			log.Warnf("%v", err)
			return
		}
	}
}

// 无界面的跟随客户端：连上服务端，把远端操作应用到本地副本，
// 每次变更后把文档打到标准输出。渲染和按键层在核心之外，
// 这个二进制主要用于冒烟测试和演示。
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"collabText/backend/internal/btep"
	"collabText/backend/internal/replica"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7311", "server address")
	name := flag.String("name", "observer", "client name")
	password := flag.String("password", "", "password (empty when the server runs open)")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}

	var creds []byte
	if *password != "" {
		creds = []byte(*password)
	}
	r, err := replica.Connect(conn, *name, creds)
	if err != nil {
		log.Fatalf("handshake: %v", err)
	}
	log.Printf("joined as client %d, doc len=%d", r.ID(), r.Len())
	fmt.Println(string(r.Snapshot()))

	r.OnRemote(func(msg btep.Message) {
		switch msg.(type) {
		case btep.Insert, btep.Delete, btep.FullSync:
			fmt.Println(string(r.Snapshot()))
		}
	})

	if err := r.Run(); err != nil {
		log.Printf("session ended: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	MsgTypeCreateMatch     = 101
	MsgTypeFindOrJoin      = 102
	MsgTypeJoinByCode      = 103
	MsgTypeLeaveMatch      = 104
	MsgTypeInitiateDeposit = 201
	MsgTypeConfirmDeposit  = 202
	MsgTypeSubmitChoice    = 203
	MsgTypeIssuePayout     = 204
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func main() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: "localhost:8080", Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Printf("Read error: %v", err)
				return
			}
			if len(message) < 4 {
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			log.Printf("<- msg %d: %s", msgID, message[4:])
		}
	}()

	log.Println("Commands:")
	log.Println("  create <identity> <stake>")
	log.Println("  find <identity> <stake>")
	log.Println("  join <identity> <room_code>")
	log.Println("  deposit <identity> <room_code>")
	log.Println("  confirm <identity> <room_code> <tx_id>")
	log.Println("  choice <identity> <room_code> <rock|paper|scissors>")
	log.Println("  payout <room_code> [tx_id...]")
	log.Println("  leave <identity> <room_code>")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-interrupt:
			return
		case <-done:
			return
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "create":
			if len(fields) != 3 {
				continue
			}
			err = send(c, MsgTypeCreateMatch, map[string]string{"identity": fields[1], "stake": fields[2]})
		case "find":
			if len(fields) != 3 {
				continue
			}
			err = send(c, MsgTypeFindOrJoin, map[string]string{"identity": fields[1], "stake": fields[2]})
		case "join":
			if len(fields) != 3 {
				continue
			}
			err = send(c, MsgTypeJoinByCode, map[string]string{"identity": fields[1], "room_code": fields[2]})
		case "deposit":
			if len(fields) != 3 {
				continue
			}
			err = send(c, MsgTypeInitiateDeposit, map[string]string{"identity": fields[1], "room_code": fields[2]})
		case "confirm":
			if len(fields) != 4 {
				continue
			}
			err = send(c, MsgTypeConfirmDeposit, map[string]string{"identity": fields[1], "room_code": fields[2], "tx_id": fields[3]})
		case "choice":
			if len(fields) != 4 {
				continue
			}
			err = send(c, MsgTypeSubmitChoice, map[string]string{"identity": fields[1], "room_code": fields[2], "choice": fields[3]})
		case "payout":
			if len(fields) < 2 {
				continue
			}
			err = send(c, MsgTypeIssuePayout, map[string]interface{}{"room_code": fields[1], "tx_ids": fields[2:]})
		case "leave":
			if len(fields) != 3 {
				continue
			}
			err = send(c, MsgTypeLeaveMatch, map[string]string{"identity": fields[1], "room_code": fields[2]})
		default:
			log.Printf("Unknown command: %s", fields[0])
			continue
		}
		if err != nil {
			log.Printf("Send failed: %v", err)
			return
		}
	}
}

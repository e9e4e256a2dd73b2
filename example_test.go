package isotp_test

import (
	"fmt"
	"time"

	"github.com/notnil/isotp"
	"github.com/notnil/isotp/can"
)

// A diagnostic client reads identifier 0xF190 from a server; the server
// answers with the UDS positive-response service id (request + 0x40).
func Example() {
	stack := isotp.New()
	defer stack.Close()
	bus := can.NewLoopbackBus()
	defer bus.Close()

	tester := bus.Open()
	ecu := bus.Open()
	stack.Bind(tester)
	stack.Bind(ecu)

	client, _ := stack.NewLink(tester, isotp.LinkConfig{
		SendID:         0x7E0,
		RecvID:         0x7E8,
		SendBufferSize: 4095,
		RecvBufferSize: 4095,
	})
	server, _ := stack.NewLink(ecu, isotp.LinkConfig{
		SendID:         0x7E8,
		RecvID:         0x7E0,
		SendBufferSize: 4095,
		RecvBufferSize: 4095,
	})

	go func() {
		buf := make([]byte, 4095)
		n, err := server.Receive(buf, time.Second)
		if err != nil {
			return
		}
		buf[0] += 0x40
		server.Send(buf[:n], time.Second)
	}()

	if err := client.Send([]byte{0x22, 0xF1, 0x90}, time.Second); err != nil {
		fmt.Println("send:", err)
		return
	}
	reply := make([]byte, 4095)
	n, err := client.Receive(reply, time.Second)
	if err != nil {
		fmt.Println("receive:", err)
		return
	}
	fmt.Printf("% X\n", reply[:n])
	// Output: 62 F1 90
}

// Package isotp provides ISO 15765-2 transport links over shared CAN buses.
//
// A Stack owns the moving parts: a bounded queue that carries raw frames out
// of the driver's receive context, a single dispatch goroutine that fans
// frames out to the links listening on each arbitration id, and a timing
// service that advances every link's protocol engine.
//
// Links expose a blocking Send/Receive facade on top of the asynchronous
// engine in the tp package. Several links may share one id, so an active
// responder and a passive logger can observe the same traffic side by side.
//
//	stack := isotp.New()
//	defer stack.Close()
//	dev := bus.Open()
//	stack.Bind(dev)
//	link, _ := stack.NewLink(dev, isotp.LinkConfig{
//		SendID:         0x7E0,
//		RecvID:         0x7E8,
//		SendBufferSize: 4095,
//		RecvBufferSize: 4095,
//	})
//	_ = link.Send(request, time.Second)
//	n, _ := link.Receive(reply, time.Second)
package isotp

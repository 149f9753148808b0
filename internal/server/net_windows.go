//go:build windows

package server

import (
	"net"

	"github.com/Microsoft/go-winio"
)

func listen(network, address string) (net.Listener, error) {
	if network != "npipe" {
		return net.Listen(network, address)
	}
	return winio.ListenPipe(address, &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  64 << 10,
		OutputBufferSize: 64 << 10,
	})
}

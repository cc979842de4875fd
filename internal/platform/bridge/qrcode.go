package bridge

import (
	"context"
	"fmt"

	"github.com/skip2/go-qrcode"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

const qrSize = 256

// openWindow never closes: the second device gives no liveness signal, the timeout applies.
type openWindow struct{}

func (openWindow) Closed() bool { return false }

// Open implements idconnect.Opener by rendering rawURL and the relay coordinates as a QR code.
func (c *Client) Open(_ context.Context, rawURL string, _ idconnect.WindowFeatures) (idconnect.Window, error) {
	if _, err := c.render(rawURL); err != nil {
		return nil, err
	}
	return openWindow{}, nil
}

// render returns the png for rawURL, also writing it where WithQRCode says.
func (c *Client) render(rawURL string) ([]byte, error) {
	uri := c.sessionURI(rawURL)
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, errors.WrapAndReport(err, "encode bridge qr code")
	}
	png, err := qr.PNG(qrSize)
	if err != nil {
		return nil, errors.WrapAndReport(err, "render bridge qr code")
	}
	if c.qrPath != "" {
		if err := qrcode.WriteFile(uri, qrcode.Medium, qrSize, c.qrPath); err != nil {
			return nil, errors.Wrapf(err, "write qr code %s", c.qrPath)
		}
		log.Infof("bridge - qr code written to %s", c.qrPath)
	}
	if c.out != nil {
		fmt.Fprintln(c.out, qr.ToString(false))
	}
	return png, nil
}

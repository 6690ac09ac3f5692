package sensors

import (
	"time"

	"github.com/MichaelS11/go-dht"
	"github.com/pkg/errors"
)

// DHT22 is the temperature and humidity probe on a GPIO pin.
type DHT22 struct {
	pin     string
	retries int
	dev     *dht.DHT
}

func NewDHT22(pin string) (*DHT22, error) {
	if err := dht.HostInit(); err != nil {
		return nil, errors.Wrap(err, "dht host init")
	}
	dev, err := dht.NewDHT(pin, dht.Celsius, "dht22")
	if err != nil {
		return nil, errors.Wrapf(err, "dht22 on %s", pin)
	}
	return &DHT22{pin: pin, retries: 11, dev: dev}, nil
}

func (d *DHT22) Name() string {
	return "dht22"
}

func (d *DHT22) Read() (Reading, error) {
	humidity, temperature, err := d.dev.ReadRetry(d.retries)
	if err != nil {
		return Reading{}, errors.Wrapf(err, "read dht22 on %s", d.pin)
	}
	return Reading{
		Probe: d.Name(),
		Fields: map[string]float64{
			"temperature": temperature,
			"humidity":    humidity,
		},
		Timestamp: time.Now(),
	}, nil
}

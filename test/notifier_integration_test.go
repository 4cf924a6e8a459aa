package test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/infra/mqtt"
)

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Logf("mosquitto not ready at %s: %v", broker, err)
		t.Skip("Mosquitto not ready after retries")
	}
	return cont, broker
}

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func TestNotifierDeliversOverMQTTContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()

	cont, broker := startMosquitto(ctx, t)
	defer func() { _ = cont.Terminate(ctx) }()

	received := make(chan []byte, 1)
	subOpts := paho.NewClientOptions().AddBroker(broker).SetClientID("receiver-sim")
	subCli := paho.NewClient(subOpts)
	if token := subCli.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("subscriber connect: %v", token.Error())
	}
	defer subCli.Disconnect(100)
	if token := subCli.Subscribe("relay/notify/r1", 1, func(_ paho.Client, m paho.Message) {
		select {
		case received <- m.Payload():
		default:
		}
	}); token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	notifier, err := mqtt.NewNotifier(mqtt.Config{
		Enabled:  true,
		Broker:   broker,
		ClientID: "relay-test",
	})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	msg := notify.Message{
		ID:        "m1",
		Recipient: "r1",
		Type:      notify.TypeNewPosting,
		Priority:  notify.PriorityHigh,
		Payload:   map[string]any{"posting_id": "p1", "city": "lyon"},
		Time:      time.Now(),
	}
	if err := notifier.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case payload := <-received:
		var got notify.Message
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != "m1" || got.Type != notify.TypeNewPosting {
			t.Errorf("unexpected message: %+v", got)
		}
		if got.Payload["posting_id"] != "p1" {
			t.Errorf("payload lost in transit: %+v", got.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("notification never arrived on the recipient topic")
	}
}

// Package mqtt connects the NAD bridge to the Gray Logic broker.
//
// Gray Logic Core talks to protocol bridges over MQTT:
//
//	Gray Logic Core <-> Mosquitto <-> nadbridge <-> NAD receiver
//
// Client wraps eclipse/paho.mqtt.golang. paho handles reconnection;
// Client restores tracked subscriptions after each reconnect, since
// sessions are clean. Handlers are wrapped so that errors are logged and
// panics recovered.
//
// Each client keeps a retained presence message on
// graylogic/system/status/{client_id}. The nad package owns the bridge
// topics (graylogic/{command,ack,state,options,health}/nad/...) and sets
// its offline health message as the will:
//
//	lwt, _ := json.Marshal(nad.NewLWTMessage(cfg.Bridge.ID))
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(nad.HealthTopic(), lwt))
//	if err != nil {
//	    return fmt.Errorf("connecting to MQTT: %w", err)
//	}
//	defer client.Close()
//
// Production brokers should use TLS (mqtt.broker.tls) and credentials.
package mqtt

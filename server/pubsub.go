package server

import (
	"context"
	"encoding/json"

	"github.com/streadway/amqp"
)

type pubSubMessage struct {
	UserIDs []string `json:"userIds"`
	Payload json.RawMessage `json:"payload"`
}

//PubSub routes room broadcasts to their subscribers by user ID. Sessions
//connected to this node receive the payload directly, the remainder is
//published over an AMQP fanout exchange so sessions held by other nodes
//still get the event. With no AMQP connection string configured the module
//degrades to local-only delivery.
type PubSub struct {
	isEnabled bool
	pubChan *amqp.Channel
	subChan *amqp.Channel
	sessionHolder *SessionHolder
	stats *Stats
	logger *Logger
	context context.Context
}

func NewPubSub(config *Config, sessionHolder *SessionHolder, stats *Stats, logger *Logger, context context.Context) *PubSub {

	if config.RabbitMQConfig.ConnString != "" {
		conn, err := amqp.Dial(config.RabbitMQConfig.ConnString)
		if err != nil {
			logger.Fatalw("Error while trying to connect amqp server", "error", err)
		}

		pubChan, err := conn.Channel()
		if err != nil {
			logger.Fatalw("Error while trying to open a channel for publish over amqp connection", "error", err)
		}

		subChan, err := conn.Channel()
		if err != nil {
			logger.Fatalw("Error while trying to open a channel for subscribe over amqp connection", "error", err)
		}

		//Now we should define exchange for both channels
		err = pubChan.ExchangeDeclare(
			"broadcasts",
			"fanout",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			logger.Fatalw("Error while trying to define exchange over publish channel", "error", err)
		}

		err = subChan.ExchangeDeclare(
			"broadcasts",
			"fanout",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			logger.Fatalw("Error while trying to define exchange over subscribe channel", "error", err)
		}

		q, err := subChan.QueueDeclare(
			"",
			false,
			false,
			true,
			false,
			nil,
		)
		if err != nil {
			logger.Fatalw("Error while trying to define queue over subscribe channel", "error", err)
		}

		err = subChan.QueueBind(
			q.Name,
			"",
			"broadcasts",
			false,
			nil,
		)
		if err != nil {
			logger.Fatalw("Error while binding queue to subscribe channel", "error", err)
		}

		msgs, err := subChan.Consume(
			q.Name,
			"",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil{
			logger.Fatalw("Error while trying to create consumer channel on subscribe channel", "error", err)
		}

		go func(){

			defer conn.Close()

			for {

				select {
				case <- context.Done():
					logger.Info("Exiting from subscribe routine")
					return
				case msg := <- msgs:

					if msg.ContentType != "application/json" {
						logger.Errorw("Unrecognized content type received", "content-type", msg.ContentType)
						continue
					}

					msgModel := &pubSubMessage{}

					if err := json.Unmarshal(msg.Body, msgModel); err != nil {
						logger.Errorw("Error while unmarshal pub sub message data", "error", err)
						continue
					}

					for _, userID := range msgModel.UserIDs {

						session := sessionHolder.GetByUserID(userID)
						if session != nil {
							_ = session.SendBytes(msgModel.Payload)
						}

					}
				}

			}

		}()


		return &PubSub{
			isEnabled: true,
			sessionHolder: sessionHolder,
			stats: stats,
			logger: logger,
			pubChan: pubChan,
			subChan: subChan,
			context: context,
		}
	}

	return &PubSub{
		isEnabled: false,
		sessionHolder: sessionHolder,
		stats: stats,
		logger: logger,
		context: context,
	}

}

func (ps *PubSub) Route(userIDs []string, event interface{}) {

	payload, err := json.Marshal(event)
	if err != nil {
		ps.logger.Errorw("Error while trying to marshal event in route method of pubsub module", "error", err)
		return
	}

	ps.stats.IncrBroadcast()

	//We can check the user ids to select the ones already belongs to current node
	//So, we can send message to them directly instead of publishing
	publishUserIDs := make([]string, 0)

	for _, userID := range userIDs {

		session := ps.sessionHolder.GetByUserID(userID)
		if session != nil {
			_ = session.SendBytes(payload)
		}else{
			publishUserIDs = append(publishUserIDs, userID)
		}

	}

	//If we still have user IDs remaining and if pubsub module is enabled we need to publish them
	if ps.isEnabled && len(publishUserIDs) > 0 {

		data, err := json.Marshal(&pubSubMessage{
			UserIDs: publishUserIDs,
			Payload: payload,
		})
		if err != nil {
			ps.logger.Errorw("Error while trying to marshal message in route method of pubsub module", "error", err)
			return
		}

		err = ps.pubChan.Publish(
			"broadcasts",
			"",
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body: data,
			})

		if err != nil {
			ps.logger.Errorw("Error while trying to publish data in route method of pubsub module", "error", err)
		}
	}

}

package daemon

import (
	"github.com/thenaterhood/spudproxy/app"
	"github.com/thenaterhood/spudproxy/models"
)

const pipelineSize = 300

// QueryPipeline moves handled queries off the receive loop and into the
// query log.
type QueryPipeline struct {
	quit  chan bool
	state *app.AppState
}

func NewQueryPipeline(state *app.AppState) *QueryPipeline {
	return &QueryPipeline{
		state: state,
		quit:  make(chan bool),
	}
}

func (c *QueryPipeline) Stop() {
	close(c.quit)
}

func (c *QueryPipeline) Start() error {
	channel := make(chan models.DnsExchange, pipelineSize)
	c.state.DnsPipeline = &channel

	go func() {
		c.state.Log.Debug("query pipeline started")

		for {
			select {
			case exchange := <-channel:
				err := c.state.QueryLog.Record(exchange)
				if err != nil {
					c.state.Log.Warn(
						"failed to log dns query",
						"query", exchange.Question.Name,
						"qtype", exchange.Question.Qtype,
						"err", err,
					)
				}
			case <-c.quit:
				c.state.Log.Debug("query pipeline stopped")
				return
			}
		}
	}()

	return nil
}

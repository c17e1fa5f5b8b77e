package argateway

import (
	"github.com/permadata-network/argateway/common"
)

var log = common.NewLog("argateway")

package opcua

import (
	"time"

	"github.com/awcullen/opcua/ua"
)

// Variable names published under each device folder.
const (
	NodeAvailability       = "Availability"
	NodePerformance        = "Performance"
	NodeQuality            = "Quality"
	NodeOEE                = "OEE"
	NodeConstrainingFactor = "ConstrainingFactor"
	NodeStopped            = "Stopped"
	NodeStoppageStart      = "StoppageStart"
	NodeWorkOrder          = "WorkOrder"
	NodeGoodCount          = "GoodCount"
	NodeScrapCount         = "ScrapCount"
	NodeCalculatedAt       = "CalculatedAt"
)

type nodeDefinition struct {
	Name         string
	DisplayName  string
	Description  string
	DataType     ua.NodeID
	InitialValue any
}

var deviceNodes = []nodeDefinition{
	{NodeAvailability, "Availability", "Availability percent over the last period", ua.DataTypeIDDouble, 0.0},
	{NodePerformance, "Performance", "Performance percent over the last period", ua.DataTypeIDDouble, 0.0},
	{NodeQuality, "Quality", "Quality percent over the last period", ua.DataTypeIDDouble, 0.0},
	{NodeOEE, "OEE", "Overall equipment effectiveness percent", ua.DataTypeIDDouble, 0.0},
	{NodeConstrainingFactor, "Constraining Factor", "Lowest OEE factor", ua.DataTypeIDString, "none"},
	{NodeStopped, "Stopped", "True while a stoppage is open", ua.DataTypeIDBoolean, false},
	{NodeStoppageStart, "Stoppage Start", "Start of the open stoppage", ua.DataTypeIDDateTime, time.Time{}},
	{NodeWorkOrder, "Work Order", "Active work order id", ua.DataTypeIDString, ""},
	{NodeGoodCount, "Good Count", "Good pieces of the active work order", ua.DataTypeIDInt64, int64(0)},
	{NodeScrapCount, "Scrap Count", "Scrap pieces of the active work order", ua.DataTypeIDInt64, int64(0)},
	{NodeCalculatedAt, "Calculated At", "Time of the last OEE calculation", ua.DataTypeIDDateTime, time.Time{}},
}
